package ledger

import (
	"context"
	"time"

	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// RetryFunc re-runs a recorded command. It is expected to record the outcome.
type RetryFunc func(ctx context.Context, command string)

// RetryWorker periodically re-runs failed commands that the ledger still
// considers eligible. It complements the one-shot retry done per message.
type RetryWorker struct {
	Ledger   *Ledger
	Retry    RetryFunc
	Interval time.Duration
	Logger   ports.Logger
}

// Run blocks until ctx is cancelled. A non-positive interval returns immediately.
func (w *RetryWorker) Run(ctx context.Context) {
	if w.Interval <= 0 || w.Retry == nil || w.Ledger == nil {
		return
	}
	log := w.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log.Info("retry worker started", map[string]interface{}{"interval": w.Interval.String()})

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("retry worker stopped", nil)
			return
		case <-ticker.C:
			w.sweep(ctx, log)
		}
	}
}

// RunOnce performs a single sweep and returns the number of retried commands.
func (w *RetryWorker) RunOnce(ctx context.Context) int {
	log := w.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return w.sweep(ctx, log)
}

func (w *RetryWorker) sweep(ctx context.Context, log ports.Logger) int {
	retried := 0
	for _, command := range w.Ledger.FailedCommands() {
		if ctx.Err() != nil {
			return retried
		}
		if !w.Ledger.ShouldRetry(command) {
			continue
		}
		status := w.Ledger.RetryStatus(command)
		log.Info("retrying failed command", map[string]interface{}{
			"command": preview(command),
			"attempt": status.Attempts + 1,
		})
		w.Retry(ctx, command)
		retried++
	}
	return retried
}
