// Package notify delivers alerts raised by the roadmap sync: email digests
// to project owners and JSON events on NATS.
package notify

import (
	"context"
	"errors"

	"github.com/c360studio/aibenefits/tracker"
)

// Notifier delivers newly created alerts.
type Notifier interface {
	Notify(ctx context.Context, alerts []*tracker.Alert) error
}

// Nop discards alerts.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, []*tracker.Alert) error { return nil }

// Multi fans alerts out to several notifiers. Every notifier is called; the
// errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, alerts []*tracker.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
