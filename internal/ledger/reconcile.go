package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Observation is what the upstream history reports for one job.
type Observation struct {
	Found     bool
	Completed bool
	Errored   bool
	Messages  []string
}

// Lookup queries the upstream execution system for a job. An error means the
// answer is unknown, not that the job failed.
type Lookup interface {
	Observe(ctx context.Context, jobID string) (Observation, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, jobID string) (Observation, error)

// Observe calls f.
func (f LookupFunc) Observe(ctx context.Context, jobID string) (Observation, error) {
	return f(ctx, jobID)
}

// Policy parameterises a reconciliation pass.
type Policy struct {
	Now         time.Time
	Timeout     time.Duration // <= 0 disables the timeout
	Concurrency int           // <= 0 means unbounded
}

// Reconcile returns a copy of records with each non-terminal status refreshed.
// Records older than the timeout fail without a lookup; the rest are looked up
// concurrently and transition from their own observation only. Lookup errors
// and unknown jobs leave a record unchanged. The input slice is not modified.
func Reconcile(ctx context.Context, records []Record, lookup Lookup, p Policy) []Record {
	out := make([]Record, len(records))
	copy(out, records)

	g, gctx := errgroup.WithContext(ctx)
	if p.Concurrency > 0 {
		g.SetLimit(p.Concurrency)
	}
	for i := range out {
		r := &out[i]
		if r.Status.Terminal() {
			continue
		}
		if p.Timeout > 0 && p.Now.Sub(r.SubmittedAt) > p.Timeout {
			r.Status = StatusFailed
			r.ErrorMessage = timeoutMessage(p.Now.Sub(r.SubmittedAt), p.Timeout)
			continue
		}
		g.Go(func() error {
			obs, err := lookup.Observe(gctx, r.JobID)
			if err != nil {
				return nil
			}
			apply(r, obs)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func apply(r *Record, obs Observation) {
	switch {
	case !obs.Found:
	case obs.Errored:
		r.Status = StatusFailed
		r.ErrorMessage = strings.Join(obs.Messages, "; ")
		if r.ErrorMessage == "" {
			r.ErrorMessage = "execution failed"
		}
	case obs.Completed:
		r.Status = StatusCompleted
	default:
		r.Status = StatusExecuting
	}
}

func timeoutMessage(elapsed, limit time.Duration) string {
	return fmt.Sprintf("request timed out after %d minutes (max: %d minutes)",
		int(elapsed/time.Minute), int(limit/time.Minute))
}
