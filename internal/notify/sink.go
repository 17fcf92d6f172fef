// Package notify delivers domain events to whoever informs customers and operators.
// Delivery is best effort: a failed notification never undoes the operation that raised it.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/go_cart/shop-service/internal/domain"
	"go.uber.org/zap"
)

type Sink interface {
	Notify(ctx context.Context, event domain.Event) error
}

// Fanout delivers every event to each sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, event domain.Event) error {
	s.logger.Info("event",
		zap.String("type", string(event.Type())),
		zap.String("key", event.Key()),
		zap.Any("payload", event))
	return nil
}

// Recorder keeps events in memory. Useful in tests and for local runs.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	Err    error
}

func (r *Recorder) Notify(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}
