package events

import (
	"context"
	"errors"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/afrojet/seed/pkg/tracing"
)

// Publisher delivers events after the change they describe has committed.
type Publisher interface {
	Publish(ctx context.Context, events ...*BuildingEvent) error
}

type Noop struct{}

func (Noop) Publish(context.Context, ...*BuildingEvent) error { return nil }

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events ...*BuildingEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter is the engines' entry point. Delivery is best effort: a failed
// publish is logged and never undoes committed state.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	if publisher == nil {
		publisher = Noop{}
	}
	return &Emitter{publisher: publisher, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, events ...*BuildingEvent) {
	if len(events) == 0 {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Emit")
	defer span.End()

	if err := e.publisher.Publish(ctx, events...); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Warn("Failed to publish building events")
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*BuildingEvent
}

func (r *Recorder) Publish(_ context.Context, events ...*BuildingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Events() []*BuildingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*BuildingEvent(nil), r.events...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.EventType
	}
	return types
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
