package boss

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/boris-v/pg-boss/pkg/core"
	"github.com/boris-v/pg-boss/pkg/security"
)

// Subscribe routes future publishes of an event to a queue.
func (b *Boss) Subscribe(ctx context.Context, event, name string) error {
	if event == "" {
		return fmt.Errorf("%w: event", core.ErrMissingArgument)
	}
	if err := security.ValidateQueueName(name); err != nil {
		return err
	}
	return b.store.Subscribe(ctx, event, name)
}

// Unsubscribe removes an event-to-queue route.
func (b *Boss) Unsubscribe(ctx context.Context, event, name string) error {
	if event == "" {
		return fmt.Errorf("%w: event", core.ErrMissingArgument)
	}
	if err := security.ValidateQueueName(name); err != nil {
		return err
	}
	return b.store.Unsubscribe(ctx, event, name)
}

// Publish fans an event out: one send per subscribed queue. Every
// subscription is attempted regardless of individual failures; the
// returned error aggregates whatever went wrong.
func (b *Boss) Publish(ctx context.Context, event string, data any, opts ...SendOption) error {
	if event == "" {
		return fmt.Errorf("%w: event", core.ErrMissingArgument)
	}

	names, err := b.store.GetQueuesForEvent(ctx, event)
	if err != nil {
		return err
	}

	var errs error
	for _, name := range names {
		if _, sendErr := b.Send(ctx, name, data, opts...); sendErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish %q to %q: %w", event, name, sendErr))
		}
	}
	return errs
}
