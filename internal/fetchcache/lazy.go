package fetchcache

import (
	"context"
	"time"
)

// LazyOptions tune a lazy load.
type LazyOptions struct {
	// Delay is waited out before the load starts, so a navigation that is
	// immediately torn down again never triggers a fetch (and the UI never
	// flashes a loading state). Zero means load immediately.
	Delay time.Duration
	// RetryDelay is waited before the single retry of a failed load.
	RetryDelay time.Duration
	// Retries is the number of retries after the first failure.
	Retries int
}

// Lazy performs a delayed, cancellation-guarded load. The context is the
// "still relevant" guard: if the triggering screen is torn down or its
// dependency key changes mid-flight, cancelling the context discards the
// result instead of applying it.
func Lazy(ctx context.Context, opts LazyOptions, loader Loader) (any, error) {
	if opts.Delay > 0 {
		if err := sleep(ctx, opts.Delay); err != nil {
			return nil, err
		}
	}

	value, err := loader(ctx)
	for attempt := 0; err != nil && attempt < opts.Retries; attempt++ {
		if opts.RetryDelay > 0 {
			if sleepErr := sleep(ctx, opts.RetryDelay); sleepErr != nil {
				return nil, sleepErr
			}
		}
		value, err = loader(ctx)
	}
	if err != nil {
		return nil, err
	}

	// The load may have outlived its trigger.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return value, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
