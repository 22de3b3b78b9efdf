// Package mcp exposes image generation on a ComfyUI server as Model Context
// Protocol tools.
//
// Each submitting tool loads a named graph from the store, injects the
// caller's parameters, queues it upstream and records the job in the ledger.
// The status tools reconcile the ledger against the server's history.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"comfymcp/internal/comfyui"
	"comfymcp/internal/ledger"
	"comfymcp/internal/logging"
	"comfymcp/internal/workflow"
)

// Upstream is the subset of the ComfyUI client the tools use.
type Upstream interface {
	QueuePrompt(ctx context.Context, g *workflow.Graph, clientID string) (*comfyui.QueueResponse, error)
	History(ctx context.Context, promptID string) (comfyui.History, error)
	Queue(ctx context.Context) (*comfyui.QueueState, error)
	UploadImage(ctx context.Context, path string) (*comfyui.UploadResponse, error)
	ViewURL(ref comfyui.ImageRef) string
}

// GraphSource resolves and loads graph definitions.
type GraphSource interface {
	Resolve(name string) (string, error)
	Load(name string) (*workflow.Graph, error)
	List() ([]string, error)
	DefaultName() string
	Location() string
}

// Recorder observes tool activity.
type Recorder interface {
	ObserveSubmission(tool string)
	ObserveToolCall(tool string, err error)
}

// Workflows names the graph each image-input tool loads by default.
type Workflows struct {
	Modify           string
	Resize           string
	Upscale          string
	RemoveBackground string
}

// Config assembles a Server. Upstream, Graphs and Ledger are required.
type Config struct {
	Name      string
	Version   string
	Upstream  Upstream
	Graphs    GraphSource
	Ledger    *ledger.Ledger
	Workflows Workflows
	Recorder  Recorder
	Logger    *slog.Logger
}

// Server wraps the MCP SDK server and the collaborators its tools share.
type Server struct {
	MCPServer *sdkmcp.Server

	upstream  Upstream
	graphs    GraphSource
	ledger    *ledger.Ledger
	workflows Workflows
	recorder  Recorder
	logger    *slog.Logger

	txt2img *workflow.Injector
	resize  *workflow.Injector
}

// NewServer registers every tool on a new MCP server.
func NewServer(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Upstream == nil {
		errs = append(errs, errors.New("mcp: upstream client required"))
	}
	if cfg.Graphs == nil {
		errs = append(errs, errors.New("mcp: graph source required"))
	}
	if cfg.Ledger == nil {
		errs = append(errs, errors.New("mcp: ledger required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "comfyui-mcp-server"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	s := &Server{
		upstream:  cfg.Upstream,
		graphs:    cfg.Graphs,
		ledger:    cfg.Ledger,
		workflows: cfg.Workflows,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		txt2img:   workflow.NewInjector(),
		resize: workflow.NewInjector(workflow.WithDimensionKinds(
			workflow.KindImageScale, workflow.KindEmptyLatent, workflow.KindEmptySD3Latent,
		)),
	}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: cfg.Name, Version: cfg.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves the tools over stdio until ctx is canceled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	addTool(s, &sdkmcp.Tool{
		Name:        "generate_image",
		Description: "Queue a text-to-image job. Returns a prompt_id to poll with get_image.",
	}, s.handleGenerateImage)

	addTool(s, &sdkmcp.Tool{
		Name:        "modify_image",
		Description: "Upload a local image and queue an image-to-image job guided by a prompt.",
	}, s.handleModifyImage)

	addTool(s, &sdkmcp.Tool{
		Name:        "resize_image",
		Description: "Upload a local image and queue a resize or upscale job to the given dimensions.",
	}, s.handleResizeImage)

	addTool(s, &sdkmcp.Tool{
		Name:        "remove_background",
		Description: "Upload a local image and queue a background removal job.",
	}, s.handleRemoveBackground)

	addTool(s, &sdkmcp.Tool{
		Name:        "get_image",
		Description: "Report the status of a queued job and, once completed, the URLs of its images.",
	}, s.handleGetImage)

	addTool(s, &sdkmcp.Tool{
		Name:        "get_request_history",
		Description: "List every job submitted through this server with its reconciled status.",
	}, s.handleGetRequestHistory)

	addTool(s, &sdkmcp.Tool{
		Name:        "list_workflows",
		Description: "List the workflow definitions available in the workflow directory.",
	}, s.handleListWorkflows)
}

// addTool registers h under tool. Errors are tagged with a code, logged and
// returned to the caller as an error result.
func addTool[In, Out any](s *Server, tool *sdkmcp.Tool, h func(context.Context, In) (Out, error)) {
	name := tool.Name
	sdkmcp.AddTool(s.MCPServer, tool, func(ctx context.Context, _ *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, Out, error) {
		out, err := h(ctx, in)
		if s.recorder != nil {
			s.recorder.ObserveToolCall(name, err)
		}
		if err != nil {
			te := classify(err)
			s.logger.WarnContext(ctx, "tool failed", "tool", name, "code", te.Code, "error", te.Err)
			var zero Out
			return nil, zero, te
		}
		return nil, out, nil
	})
}
