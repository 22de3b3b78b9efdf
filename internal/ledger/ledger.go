// Package ledger tracks jobs submitted to the upstream execution engine for
// the lifetime of the process and reconciles their status against it.
//
// Records are append-only and never persisted. A record's status only moves
// forward: queued, then executing, then completed or failed. Once terminal it
// is never touched again.
package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is how long a job may stay non-terminal before it is failed.
const DefaultTimeout = 15 * time.Minute

// Record is one submitted job.
type Record struct {
	JobID          string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	GraphName      string
	SubmittedAt    time.Time
	Status         Status
	QueuePosition  *int
	InputImagePath string
	ErrorMessage   string
}

// TransitionRecorder observes status changes applied by reconciliation.
type TransitionRecorder interface {
	ObserveTransition(from, to Status)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTimeout overrides DefaultTimeout. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.timeout = d }
}

// WithConcurrency bounds concurrent lookups per reconciliation pass.
func WithConcurrency(n int) Option {
	return func(l *Ledger) { l.concurrency = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRecorder reports applied transitions.
func WithRecorder(r TransitionRecorder) Option {
	return func(l *Ledger) { l.recorder = r }
}

// WithLogger configures structured logging.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger is the insertion-ordered, in-memory set of submitted jobs.
// It is safe for concurrent use.
type Ledger struct {
	timeout     time.Duration
	concurrency int
	now         func() time.Time
	recorder    TransitionRecorder
	logger      *slog.Logger

	mu      sync.Mutex
	records []Record
	byID    map[string]int
}

// New returns an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		timeout:     DefaultTimeout,
		concurrency: 8,
		now:         time.Now,
		byID:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l
}

// Record appends r in the queued state, stamping SubmittedAt when unset.
// An empty or already recorded job id is a programming error and panics.
func (l *Ledger) Record(r Record) {
	if r.JobID == "" {
		panic("ledger: record without job id")
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = l.now()
	}
	r.Status = StatusQueued
	r.ErrorMessage = ""

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.byID[r.JobID]; dup {
		panic(fmt.Sprintf("ledger: duplicate job id %q", r.JobID))
	}
	l.byID[r.JobID] = len(l.records)
	l.records = append(l.records, r)
	l.logger.Debug("job recorded", "job_id", r.JobID, "graph", r.GraphName)
}

// Records returns a snapshot in submission order.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Get returns the record for jobID.
func (l *Ledger) Get(jobID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byID[jobID]
	if !ok {
		return Record{}, false
	}
	return l.records[i], true
}

// Len returns the number of recorded jobs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Reconcile refreshes every non-terminal record against lookup, stores the
// results and returns the full snapshot. The lock is not held during lookups;
// a record that another pass made terminal in the meantime is left alone.
func (l *Ledger) Reconcile(ctx context.Context, lookup Lookup) []Record {
	snapshot := l.Records()

	logged := LookupFunc(func(ctx context.Context, jobID string) (Observation, error) {
		obs, err := lookup.Observe(ctx, jobID)
		if err != nil {
			l.logger.Debug("status lookup failed, keeping status", "job_id", jobID, "error", err)
		}
		return obs, err
	})
	updated := Reconcile(ctx, snapshot, logged, Policy{
		Now:         l.now(),
		Timeout:     l.timeout,
		Concurrency: l.concurrency,
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range updated {
		before := snapshot[i]
		if r.Status == before.Status && r.ErrorMessage == before.ErrorMessage {
			continue
		}
		cur := &l.records[l.byID[r.JobID]]
		if cur.Status.Terminal() {
			continue
		}
		from := cur.Status
		cur.Status = r.Status
		cur.ErrorMessage = r.ErrorMessage
		if from != r.Status {
			l.logger.Info("job status changed", "job_id", r.JobID, "from", from, "to", r.Status)
			if l.recorder != nil {
				l.recorder.ObserveTransition(from, r.Status)
			}
		}
	}
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
