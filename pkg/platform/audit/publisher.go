package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher emits ledger events to a sink. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// MemoryPublisher collects events in memory. Test and dev sink.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = event.Topic.Category()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a snapshot of everything emitted so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByTopic filters the captured events by topic.
func (p *MemoryPublisher) ByTopic(topic Topic) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// LogPublisher writes events to the structured logger. Used when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Emit(ctx context.Context, event Event) error {
	if event.Category == "" {
		event.Category = event.Topic.Category()
	}
	p.logger.InfoContext(ctx, "ledger event",
		"topic", event.Topic,
		"category", event.Category,
		"identity", event.Identity,
		"data", event.Data,
	)
	return nil
}
