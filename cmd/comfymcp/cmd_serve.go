package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"comfymcp/internal/logging"
	"comfymcp/internal/mcp"
	"comfymcp/internal/statusapi"
	"comfymcp/internal/workflow"
)

var serveFlags struct {
	httpAddr string
	watch    bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout. The MCP client launches this command
and calls the image tools directly.

The server monitors its parent process and exits when the client goes away.
With --watch, edits in the workflow directory invalidate cached graphs. With
--http-addr, a status listener serves /healthz, /requests and /metrics.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.httpAddr, "http-addr", "", "Address of the status listener (empty disables it)")
	f.BoolVar(&serveFlags.watch, "watch", false, "Reload workflow definitions when they change on disk")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	srv, err := a.mcpServer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	mcp.WatchParent(ctx, a.cfg.Server.ParentCheck, cancel, logging.New("watchdog"))

	a.preflight(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Workflows.Watch {
		w := workflow.NewWatcher(a.cfg.Workflows.Dir, a.store, logging.New("watcher"))
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				a.logger.Warn("workflow watcher stopped", "error", err)
			}
			return nil
		})
	}
	if a.cfg.Server.HTTPAddr != "" {
		h := statusapi.NewRouter(statusapi.Options{
			Upstream: a.client,
			Ledger:   a.ledger,
			Metrics:  a.metrics.Handler(),
			Logger:   logging.New("statusapi"),
		})
		g.Go(func() error {
			return statusapi.Serve(gctx, a.cfg.Server.HTTPAddr, h, logging.New("statusapi"))
		})
	}
	g.Go(func() error {
		defer cancel()
		a.logger.Info("starting MCP server over stdio",
			"comfyui", a.client.BaseURL(), "workflows", a.store.Location(), "default", a.store.DefaultName())
		err := srv.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// preflight logs problems the first tool call would hit. It never fails.
func (a *app) preflight(ctx context.Context) {
	timeout := a.cfg.ComfyUI.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if stats, err := a.client.SystemStats(pctx); err != nil {
		a.logger.Warn("ComfyUI not reachable yet", "url", a.client.BaseURL(), "error", err)
	} else {
		a.logger.Info("ComfyUI reachable", "version", stats.System.ComfyUIVersion, "devices", len(stats.Devices))
	}
	if _, err := a.store.Load(""); err != nil {
		a.logger.Warn("default workflow unavailable", "name", a.store.DefaultName(), "error", err)
	}
}
