package audit

import (
	"context"
	"log/slog"
)

// AsyncPublisher decouples event emission from the broker round-trip. Emit
// enqueues; a single Run loop drains the queue to the wrapped publisher.
// When the queue is full the event is dropped and counted rather than
// blocking a ledger operation.
type AsyncPublisher struct {
	next   Publisher
	inbox  chan Event
	logger *slog.Logger
}

func NewAsyncPublisher(next Publisher, buffer int, logger *slog.Logger) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncPublisher{
		next:   next,
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

func (p *AsyncPublisher) Emit(_ context.Context, event Event) error {
	select {
	case p.inbox <- event:
		return nil
	default:
		p.logger.Warn("event queue full, dropping event",
			"topic", event.Topic,
			"identity", event.Identity,
		)
		return nil
	}
}

// Run drains the queue until the context is cancelled, then flushes whatever
// is still buffered.
func (p *AsyncPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return ctx.Err()
		case event := <-p.inbox:
			p.deliver(ctx, event)
		}
	}
}

func (p *AsyncPublisher) flush() {
	for {
		select {
		case event := <-p.inbox:
			p.deliver(context.Background(), event)
		default:
			return
		}
	}
}

func (p *AsyncPublisher) deliver(ctx context.Context, event Event) {
	if err := p.next.Emit(ctx, event); err != nil {
		p.logger.Error("publish event failed",
			"topic", event.Topic,
			"identity", event.Identity,
			"error", err,
		)
	}
}
