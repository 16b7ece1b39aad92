// ABOUTME: Post-commit delivery of gateway events to external sinks
// ABOUTME: Notifiers never affect the outcome of an operation that already committed

package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/pulsar-gateway/internal/store"
)

// Notifier delivers a committed event. Delivery is best effort: callers log
// errors and carry on.
type Notifier interface {
	Notify(ctx context.Context, ev *store.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev *store.Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, ev *store.Event) error {
	return f(ctx, ev)
}

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(context.Context, *store.Event) error { return nil })

// Multi delivers each event to every notifier in order.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti combines notifiers. Nil entries are skipped.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With("component", "events")}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify delivers ev to all notifiers even when some fail, and returns the
// joined errors.
func (m *Multi) Notify(ctx context.Context, ev *store.Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			m.logger.Warn("event delivery failed",
				"event_id", ev.ID,
				"kind", ev.Kind,
				"error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
