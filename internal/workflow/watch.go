package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Invalidator drops cached graphs by name.
type Invalidator interface {
	Invalidate(name string)
}

// Watcher invalidates cached graphs when their definition files change on
// disk, so edits between runs are picked up without a restart.
type Watcher struct {
	dir    string
	target Invalidator
	logger *slog.Logger
}

// NewWatcher returns a Watcher for the definitions in dir.
func NewWatcher(dir string, target Invalidator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{dir: dir, target: target, logger: logger}
}

// Run watches until ctx is canceled. It fails with ErrWorkspaceUnavailable
// when the directory cannot be watched.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrWorkspaceUnavailable, w.dir, err)
	}
	w.logger.Info("watching workflow directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("workflow watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !strings.EqualFold(filepath.Ext(name), DefinitionExt) {
		return
	}
	if !ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
		return
	}
	w.logger.Debug("workflow changed", "name", name, "op", ev.Op.String())
	w.target.Invalidate(name)
}
