package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"comfymcp/internal/comfyui"
	"comfymcp/internal/format"
	"comfymcp/internal/logging"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that ComfyUI answers and show its devices and queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := comfyui.New(cfg.ComfyUI.URL,
			comfyui.WithTimeout(cfg.ComfyUI.Timeout),
			comfyui.WithLogger(logging.New("comfyui")),
		)
		if err != nil {
			return err
		}
		return writeStatus(cmd.Context(), cmd.OutOrStdout(), client)
	},
}

// statusSource is the part of the client the status command reads.
type statusSource interface {
	BaseURL() string
	SystemStats(ctx context.Context) (*comfyui.SystemStats, error)
	Queue(ctx context.Context) (*comfyui.QueueState, error)
}

func writeStatus(ctx context.Context, w io.Writer, src statusSource) error {
	stats, err := src.SystemStats(ctx)
	if err != nil {
		return fmt.Errorf("ComfyUI at %s: %w", src.BaseURL(), err)
	}
	fmt.Fprintf(w, "ComfyUI %s at %s (%s, Python %s)\n",
		format.OrDash(stats.System.ComfyUIVersion), src.BaseURL(),
		format.OrDash(stats.System.OS), format.Truncate(format.OrDash(stats.System.PythonVersion), 12))

	if len(stats.Devices) > 0 {
		t := format.NewTable(format.ASCII)
		t.Header("Device", "Type", "VRAM free", "VRAM total")
		t.Columns(
			format.Column{Number: 1, MaxWidth: 48},
			format.Column{Number: 3, Align: format.AlignRight},
			format.Column{Number: 4, Align: format.AlignRight},
		)
		for _, d := range stats.Devices {
			t.Row(d.Name, d.Type, mib(d.VRAMFree), mib(d.VRAMTotal))
		}
		fmt.Fprintln(w, t.String())
	}

	q, err := src.Queue(ctx)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	fmt.Fprintf(w, "Queue: %d running, %d pending\n", len(q.Running), len(q.Pending))
	return nil
}

func mib(b int64) string {
	return fmt.Sprintf("%d MiB", b/(1<<20))
}
