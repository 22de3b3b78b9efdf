package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"comfymcp/internal/ledger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticRecords []ledger.Record

func (s staticRecords) Records() []ledger.Record { return s }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		upstream Pinger
		wantCode int
		want     healthResponse
	}{
		{"no upstream", nil, http.StatusOK, healthResponse{Status: "ok", Upstream: "unknown"}},
		{
			"reachable",
			pingFunc(func(context.Context) error { return nil }),
			http.StatusOK,
			healthResponse{Status: "ok", Upstream: "reachable"},
		},
		{
			"unreachable",
			pingFunc(func(context.Context) error { return errors.New("connection refused") }),
			http.StatusServiceUnavailable,
			healthResponse{Status: "degraded", Upstream: "unreachable", Error: "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, NewRouter(Options{Upstream: tt.upstream}), "/healthz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var got healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequests(t *testing.T) {
	submitted := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h := NewRouter(Options{Ledger: staticRecords{
		{JobID: "a", GraphName: "workflow.json", Status: ledger.StatusQueued, SubmittedAt: submitted},
		{JobID: "b", GraphName: "x.json", Status: ledger.StatusFailed, SubmittedAt: submitted, ErrorMessage: "boom"},
	}})

	rec := get(t, h, "/requests")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got []requestView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := []requestView{
		{PromptID: "a", Workflow: "workflow.json", Status: "queued", SubmittedAt: "2026-05-01T10:00:00Z"},
		{PromptID: "b", Workflow: "x.json", Status: "failed", SubmittedAt: "2026-05-01T10:00:00Z", ErrorMessage: "boom"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestOptionalRoutes(t *testing.T) {
	h := NewRouter(Options{})
	if rec := get(t, h, "/requests"); rec.Code != http.StatusNotFound {
		t.Errorf("/requests without ledger = %d", rec.Code)
	}
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("/metrics without handler = %d", rec.Code)
	}

	h = NewRouter(Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("metric 1\n"))
	})})
	if rec := get(t, h, "/metrics"); rec.Code != http.StatusOK || rec.Body.String() != "metric 1\n" {
		t.Errorf("/metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, NewRouter(Options{}), nil) }()

	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("code = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	if err := Serve(context.Background(), "256.0.0.1:bad", http.NotFoundHandler(), nil); err == nil {
		t.Error("expected listen error")
	}
}
