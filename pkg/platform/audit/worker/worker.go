package worker

import (
	"context"
	"log/slog"

	audit "faceauth/pkg/platform/audit"
)

// Persister writes one event durably.
type Persister interface {
	Persist(ctx context.Context, event audit.Event) error
}

// Worker consumes audit events from a channel and persists them. A failed
// write is logged by the persister and the worker moves on to the next event.
type Worker struct {
	persister Persister
	inbox     <-chan audit.Event
	logger    *slog.Logger
}

func NewWorker(persister Persister, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{persister: persister, inbox: inbox, logger: logger}
}

// Run blocks until the inbox is closed or ctx is cancelled. On cancellation
// it drains events already queued before returning.
func (w *Worker) Run(ctx context.Context) error {
	if w.inbox == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			_ = w.persister.Persist(ctx, event)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	drained := 0
	for {
		select {
		case event, ok := <-w.inbox:
			if !ok {
				w.logDrained(ctx, drained)
				return
			}
			_ = w.persister.Persist(ctx, event)
			drained++
		default:
			w.logDrained(ctx, drained)
			return
		}
	}
}

func (w *Worker) logDrained(ctx context.Context, n int) {
	if n > 0 {
		w.logger.InfoContext(ctx, "audit worker drained queued events", "count", n)
	}
}
