// Package statusapi serves the optional HTTP status listener: health of the
// upstream server, Prometheus metrics and a read-only view of the ledger.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"comfymcp/internal/ledger"
	"comfymcp/internal/logging"
)

// Pinger checks upstream reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RecordSource lists tracked jobs without reconciling them.
type RecordSource interface {
	Records() []ledger.Record
}

// Options are the collaborators of the router. Nil fields disable their route.
type Options struct {
	Upstream Pinger
	Ledger   RecordSource
	Metrics  http.Handler
	Logger   *slog.Logger

	// PingTimeout bounds the upstream check. Zero means 3s.
	PingTimeout time.Duration
}

type healthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
	Error    string `json:"error,omitempty"`
}

type requestView struct {
	PromptID     string `json:"prompt_id"`
	Workflow     string `json:"workflow_name"`
	Status       string `json:"status"`
	SubmittedAt  string `json:"timestamp"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewRouter returns the status handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp := healthResponse{Status: "ok", Upstream: "unknown"}
		code := http.StatusOK
		if opts.Upstream != nil {
			ctx, cancel := context.WithTimeout(req.Context(), opts.PingTimeout)
			defer cancel()
			if err := opts.Upstream.Ping(ctx); err != nil {
				resp = healthResponse{Status: "degraded", Upstream: "unreachable", Error: err.Error()}
				code = http.StatusServiceUnavailable
			} else {
				resp.Upstream = "reachable"
			}
		}
		writeJSON(w, code, resp, opts.Logger)
	})

	if opts.Ledger != nil {
		r.Get("/requests", func(w http.ResponseWriter, req *http.Request) {
			records := opts.Ledger.Records()
			out := make([]requestView, 0, len(records))
			for _, rec := range records {
				out = append(out, requestView{
					PromptID:     rec.JobID,
					Workflow:     rec.GraphName,
					Status:       string(rec.Status),
					SubmittedAt:  rec.SubmittedAt.UTC().Format(time.RFC3339),
					ErrorMessage: rec.ErrorMessage,
				})
			}
			writeJSON(w, http.StatusOK, out, opts.Logger)
		})
	}

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write status response", "error", err)
	}
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status listener: %w", err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("status listener started", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("status listener: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status listener shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status listener: %w", err)
	}
	return nil
}
