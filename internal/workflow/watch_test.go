package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingInvalidator) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func TestWatcher_HandleFiltersEvents(t *testing.T) {
	rec := &recordingInvalidator{}
	w := NewWatcher("/wf", rec, nil)

	w.handle(fsnotify.Event{Name: "/wf/workflow.json", Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: "/wf/notes.txt", Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: "/wf/Other.JSON", Op: fsnotify.Create})
	w.handle(fsnotify.Event{Name: "/wf/gone.json", Op: fsnotify.Remove})
	w.handle(fsnotify.Event{Name: "/wf/perm.json", Op: fsnotify.Chmod})

	want := []string{"workflow.json", "Other.JSON", "gone.json"}
	if diff := cmp.Diff(want, rec.seen()); diff != "" {
		t.Errorf("invalidations mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcher_RunMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent"), &recordingInvalidator{}, nil)
	err := w.Run(context.Background())
	if !errors.Is(err, ErrWorkspaceUnavailable) {
		t.Fatalf("err = %v, want ErrWorkspaceUnavailable", err)
	}
}

func TestWatcher_RunInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	rec := &recordingInvalidator{}
	w := NewWatcher(dir, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// The watch is registered asynchronously; keep writing until it shows up.
	path := filepath.Join(dir, "workflow.json")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
		for _, name := range rec.seen() {
			if name == "workflow.json" {
				return
			}
		}
	}
	t.Fatal("no invalidation observed for workflow.json")
}
