package main

import (
	"fmt"
	"log/slog"
	"os"

	"comfymcp/internal/comfyui"
	"comfymcp/internal/config"
	"comfymcp/internal/ledger"
	"comfymcp/internal/logging"
	"comfymcp/internal/mcp"
	"comfymcp/internal/metrics"
	"comfymcp/internal/workflow"
)

// app holds the collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	client  *comfyui.Client
	store   *workflow.Store
	ledger  *ledger.Ledger
}

func newApp(c *config.Config) (*app, error) {
	m := metrics.New()
	client, err := comfyui.New(c.ComfyUI.URL,
		comfyui.WithTimeout(c.ComfyUI.Timeout),
		comfyui.WithLogger(logging.New("comfyui")),
		comfyui.WithRequestRecorder(m),
	)
	if err != nil {
		return nil, fmt.Errorf("comfyui client: %w", err)
	}
	return &app{
		cfg:     c,
		logger:  logging.New("comfymcp"),
		metrics: m,
		client:  client,
		store:   newStore(c, m),
		ledger: ledger.New(
			ledger.WithTimeout(c.Ledger.Timeout),
			ledger.WithConcurrency(c.Ledger.Concurrency),
			ledger.WithRecorder(m),
			ledger.WithLogger(logging.New("ledger")),
		),
	}, nil
}

func newStore(c *config.Config, rec workflow.CacheRecorder) *workflow.Store {
	opts := []workflow.StoreOption{
		workflow.WithDefaultGraph(c.Workflows.Default),
		workflow.WithStoreLogger(logging.New("workflow")),
	}
	if rec != nil {
		opts = append(opts, workflow.WithCacheRecorder(rec))
	}
	return workflow.NewStore(os.DirFS(c.Workflows.Dir), c.Workflows.Dir, opts...)
}

func (a *app) mcpServer() (*mcp.Server, error) {
	return mcp.NewServer(mcp.Config{
		Name:     a.cfg.Server.Name,
		Version:  a.cfg.Server.Version,
		Upstream: a.client,
		Graphs:   a.store,
		Ledger:   a.ledger,
		Workflows: mcp.Workflows{
			Modify:           a.cfg.Workflows.Modify,
			Resize:           a.cfg.Workflows.Resize,
			Upscale:          a.cfg.Workflows.Upscale,
			RemoveBackground: a.cfg.Workflows.RemoveBackground,
		},
		Recorder: a.metrics,
		Logger:   logging.New("mcp"),
	})
}
