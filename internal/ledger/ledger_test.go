package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// upstream is a scripted Lookup keyed by job id.
type upstream struct {
	mu    sync.Mutex
	obs   map[string]Observation
	errs  map[string]error
	calls []string
}

func (u *upstream) Observe(_ context.Context, jobID string) (Observation, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, jobID)
	if err := u.errs[jobID]; err != nil {
		return Observation{}, err
	}
	return u.obs[jobID], nil
}

type transitions struct {
	mu  sync.Mutex
	got []string
}

func (r *transitions) ObserveTransition(from, to Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, string(from)+"->"+string(to))
}

func newTestLedger(opts ...Option) (*Ledger, *fakeClock) {
	clock := &fakeClock{now: t0}
	return New(append([]Option{WithClock(clock.Now)}, opts...)...), clock
}

func statuses(records []Record) map[string]Status {
	m := make(map[string]Status, len(records))
	for _, r := range records {
		m[r.JobID] = r.Status
	}
	return m
}

func TestRecord_AppendsQueued(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Record{JobID: "a", Prompt: "cat", Status: StatusCompleted, ErrorMessage: "stale"})
	l.Record(Record{JobID: "b", Prompt: "dog", SubmittedAt: t0.Add(-time.Minute)})

	got := l.Records()
	if len(got) != 2 || got[0].JobID != "a" || got[1].JobID != "b" {
		t.Fatalf("records out of order: %+v", got)
	}
	if got[0].Status != StatusQueued || got[0].ErrorMessage != "" {
		t.Errorf("record a = %+v, want fresh queued", got[0])
	}
	if !got[0].SubmittedAt.Equal(t0) {
		t.Errorf("SubmittedAt = %v, want clock time", got[0].SubmittedAt)
	}
	if !got[1].SubmittedAt.Equal(t0.Add(-time.Minute)) {
		t.Errorf("explicit SubmittedAt overwritten: %v", got[1].SubmittedAt)
	}
	if l.Len() != 2 {
		t.Errorf("Len = %d", l.Len())
	}
}

func TestRecord_DuplicateJobIDPanics(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Record{JobID: "dup"})

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on duplicate job id")
		}
		if !strings.Contains(fmt.Sprint(r), "dup") {
			t.Errorf("panic = %v, want job id in message", r)
		}
	}()
	l.Record(Record{JobID: "dup"})
}

func TestRecord_EmptyJobIDPanics(t *testing.T) {
	l, _ := newTestLedger()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on empty job id")
		}
	}()
	l.Record(Record{})
}

func TestRecords_ReturnsSnapshot(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Record{JobID: "a"})
	snap := l.Records()
	snap[0].Status = StatusFailed

	got, _ := l.Get("a")
	if got.Status != StatusQueued {
		t.Errorf("snapshot mutation leaked into ledger: %s", got.Status)
	}
	if _, ok := l.Get("missing"); ok {
		t.Error("Get(missing) reported found")
	}
}

func TestReconcile_CompletedScenario(t *testing.T) {
	l, _ := newTestLedger()
	l.Record(Record{JobID: "job-1"})

	up := &upstream{obs: map[string]Observation{"job-1": {Found: true, Completed: true}}}
	got := l.Reconcile(context.Background(), up)

	if got[0].Status != StatusCompleted {
		t.Errorf("status = %s, want completed", got[0].Status)
	}
	stored, _ := l.Get("job-1")
	if stored.Status != StatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
}

func TestReconcile_Transitions(t *testing.T) {
	l, _ := newTestLedger()
	for _, id := range []string{"done", "running", "broken", "broken-silent", "unknown", "unreachable"} {
		l.Record(Record{JobID: id})
	}
	up := &upstream{
		obs: map[string]Observation{
			"done":    {Found: true, Completed: true},
			"running": {Found: true},
			"broken": {Found: true, Completed: true, Errored: true, Messages: []string{
				"execution_error", `{"node_id":"3","exception_message":"CUDA out of memory"}`,
			}},
			"broken-silent": {Found: true, Errored: true},
		},
		errs: map[string]error{"unreachable": errors.New("connection refused")},
	}

	got := l.Reconcile(context.Background(), up)

	want := map[string]Status{
		"done":          StatusCompleted,
		"running":       StatusExecuting,
		"broken":        StatusFailed,
		"broken-silent": StatusFailed,
		"unknown":       StatusQueued,
		"unreachable":   StatusQueued,
	}
	if diff := cmp.Diff(want, statuses(got)); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	broken, _ := l.Get("broken")
	wantMsg := `execution_error; {"node_id":"3","exception_message":"CUDA out of memory"}`
	if broken.ErrorMessage != wantMsg {
		t.Errorf("error message = %q, want %q", broken.ErrorMessage, wantMsg)
	}
	silent, _ := l.Get("broken-silent")
	if silent.ErrorMessage != "execution failed" {
		t.Errorf("silent failure message = %q, want %q", silent.ErrorMessage, "execution failed")
	}
}

func TestReconcile_TimeoutOverridesUpstream(t *testing.T) {
	l, clock := newTestLedger()
	l.Record(Record{JobID: "slow"})
	clock.Advance(16 * time.Minute)

	up := &upstream{obs: map[string]Observation{"slow": {Found: true, Completed: true}}}
	got := l.Reconcile(context.Background(), up)

	if got[0].Status != StatusFailed {
		t.Fatalf("status = %s, want failed", got[0].Status)
	}
	want := "request timed out after 16 minutes (max: 15 minutes)"
	if got[0].ErrorMessage != want {
		t.Errorf("message = %q, want %q", got[0].ErrorMessage, want)
	}
	if len(up.calls) != 0 {
		t.Errorf("timed out record was looked up: %v", up.calls)
	}
}

func TestReconcile_TimeoutBoundary(t *testing.T) {
	l, clock := newTestLedger()
	l.Record(Record{JobID: "edge"})
	clock.Advance(DefaultTimeout)

	got := l.Reconcile(context.Background(), &upstream{})
	if got[0].Status != StatusQueued {
		t.Errorf("status at exactly the timeout = %s, want queued", got[0].Status)
	}
}

func TestReconcile_TimeoutDisabled(t *testing.T) {
	l, clock := newTestLedger(WithTimeout(0))
	l.Record(Record{JobID: "old"})
	clock.Advance(24 * time.Hour)

	got := l.Reconcile(context.Background(), &upstream{})
	if got[0].Status != StatusQueued {
		t.Errorf("status = %s, want queued", got[0].Status)
	}
}

func TestReconcile_NeverDowngradesTerminal(t *testing.T) {
	l, clock := newTestLedger()
	l.Record(Record{JobID: "a"})
	l.Record(Record{JobID: "b"})

	up := &upstream{obs: map[string]Observation{
		"a": {Found: true, Completed: true},
		"b": {Found: true, Errored: true, Messages: []string{"boom"}},
	}}
	l.Reconcile(context.Background(), up)

	// Upstream now reports an inconsistent transient state, and time runs out.
	up.obs["a"] = Observation{Found: true}
	up.obs["b"] = Observation{Found: true, Completed: true}
	up.calls = nil
	clock.Advance(time.Hour)
	got := l.Reconcile(context.Background(), up)

	want := map[string]Status{"a": StatusCompleted, "b": StatusFailed}
	if diff := cmp.Diff(want, statuses(got)); diff != "" {
		t.Errorf("terminal records changed (-want +got):\n%s", diff)
	}
	if got[1].ErrorMessage != "boom" {
		t.Errorf("failed message overwritten: %q", got[1].ErrorMessage)
	}
	if len(up.calls) != 0 {
		t.Errorf("terminal records were looked up: %v", up.calls)
	}
}

func TestReconcile_RecordsTransitions(t *testing.T) {
	rec := &transitions{}
	l, _ := newTestLedger(WithRecorder(rec))
	l.Record(Record{JobID: "a"})

	up := &upstream{obs: map[string]Observation{"a": {Found: true}}}
	l.Reconcile(context.Background(), up)
	l.Reconcile(context.Background(), up)
	up.obs["a"] = Observation{Found: true, Completed: true}
	l.Reconcile(context.Background(), up)

	want := []string{"queued->executing", "executing->completed"}
	if diff := cmp.Diff(want, rec.got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_FanOutIsBounded(t *testing.T) {
	const jobs, limit = 20, 3
	var inFlight, peak atomic.Int32

	lookup := LookupFunc(func(ctx context.Context, jobID string) (Observation, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return Observation{Found: true}, nil
	})

	records := make([]Record, jobs)
	for i := range records {
		records[i] = Record{JobID: fmt.Sprintf("job-%02d", i), Status: StatusQueued, SubmittedAt: t0}
	}
	got := Reconcile(context.Background(), records, lookup, Policy{Now: t0, Timeout: DefaultTimeout, Concurrency: limit})

	if p := peak.Load(); p > limit {
		t.Errorf("peak concurrency = %d, want <= %d", p, limit)
	}
	for i, r := range got {
		if r.Status != StatusExecuting {
			t.Errorf("record %d status = %s", i, r.Status)
		}
		if records[i].Status != StatusQueued {
			t.Errorf("input record %d mutated", i)
		}
	}
}

func TestReconcile_ConcurrentRecordAndReconcile(t *testing.T) {
	l, _ := newTestLedger()
	up := LookupFunc(func(context.Context, string) (Observation, error) {
		return Observation{Found: true, Completed: true}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Record(Record{JobID: fmt.Sprintf("job-%d", i)})
		}()
		go func() {
			defer wg.Done()
			l.Reconcile(context.Background(), up)
		}()
	}
	wg.Wait()

	got := l.Reconcile(context.Background(), up)
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
	for _, r := range got {
		if r.Status != StatusCompleted {
			t.Errorf("%s status = %s", r.JobID, r.Status)
		}
	}
}
