package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Publisher accepts events from request paths and hands them to a background
// worker through a bounded buffer. When the buffer is full (or the publisher is
// closed or unbuffered) the event is persisted synchronously instead, so no
// event is dropped.
type Publisher struct {
	store   Store
	sinks   []Sink
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	inbox  chan Event
	closed bool
}

type PublisherOption func(*Publisher)

// WithBufferSize sets the async buffer capacity. Zero makes every Emit synchronous.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Event, n)
		} else {
			p.inbox = nil
		}
	}
}

func WithSink(sink Sink) PublisherOption {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...PublisherOption) (*Publisher, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		inbox:  make(chan Event, 256),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Emit enqueues the event for persistence. The returned error is non-nil only
// when a synchronous write failed.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	event = normalize(event)
	p.metrics.IncEmitted(event.Type)

	p.mu.RLock()
	if p.inbox != nil && !p.closed {
		select {
		case p.inbox <- event:
			p.mu.RUnlock()
			return nil
		default:
			p.metrics.IncSyncFallback()
		}
	}
	p.mu.RUnlock()

	return p.Persist(context.WithoutCancel(ctx), event)
}

// Events exposes the buffered queue for the worker. Nil when unbuffered.
func (p *Publisher) Events() <-chan Event {
	return p.inbox
}

// Persist writes event to the store and forwards it to every sink. Sink
// failures are logged and counted but do not fail the write.
func (p *Publisher) Persist(ctx context.Context, event Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailure()
		p.logger.ErrorContext(ctx, "failed to persist audit event",
			"event", string(event.Type),
			"event_id", event.ID.String(),
			"error", err,
		)
		return fmt.Errorf("append audit event: %w", err)
	}
	p.metrics.IncPersisted()

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			p.metrics.IncSinkFailure()
			p.logger.WarnContext(ctx, "audit sink rejected event",
				"event", string(event.Type),
				"event_id", event.ID.String(),
				"error", err,
			)
		}
	}
	return nil
}

// Recent reads events back from the store, newest first.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close stops accepting buffered events; later Emits are written synchronously.
// The worker drains whatever is still queued.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
}

func normalize(event Event) Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = event.Type.Category()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	return event
}
