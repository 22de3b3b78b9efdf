package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"comfymcp/internal/logging"
)

// WatchParent cancels the server when the process that launched it exits,
// detected as a change of parent pid checked every interval. It never reads
// stdin, which belongs to the stdio transport. The goroutine stops when ctx
// is done.
func WatchParent(ctx context.Context, interval time.Duration, cancel context.CancelFunc, logger *slog.Logger) {
	watchParent(ctx, interval, os.Getppid, cancel, logger)
}

func watchParent(ctx context.Context, interval time.Duration, getppid func() int, cancel context.CancelFunc, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ppid := getppid()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if getppid() != ppid {
					logger.Warn("parent process exited, shutting down", "parent_pid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
