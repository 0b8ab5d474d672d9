// Package retry runs an operation under a bounded retry budget: up to
// Attempts guarded tries separated by Delay, then one final unguarded try
// whose outcome is returned as is. Callers wanting a hard cap of n calls pass
// Attempts = n-1.
package retry

import (
	"context"
	"time"

	"github.com/bnema/skyrelay/internal/ports"
	"k8s.io/utils/clock"
)

type Budget struct {
	Attempts int
	Delay    time.Duration
}

type Option func(*options)

type options struct {
	clock     ports.Clock
	onFailure func(attempt int, err error)
}

func WithClock(clock ports.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// OnFailure is called after each guarded attempt fails, before the delay.
func OnFailure(fn func(attempt int, err error)) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

func Do(ctx context.Context, budget Budget, op func(ctx context.Context) error, opts ...Option) error {
	_, err := Value(ctx, budget, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

func Value[T any](ctx context.Context, budget Budget, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	for attempt := 0; attempt < budget.Attempts; attempt++ {
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		if o.onFailure != nil {
			o.onFailure(attempt, err)
		}
		if budget.Delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-o.clock.After(budget.Delay):
		}
	}

	return op(ctx)
}
