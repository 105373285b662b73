package cli

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/policyhub/policyhub/internal/domain/services"
)

// withStoreRetry runs fn, retrying with fibonacci backoff while the shared
// store is locked by another workstation. Any other failure surfaces
// immediately; a store that stays busy past the attempt budget surfaces
// services.ErrStoreUnavailable.
func withStoreRetry(ctx context.Context, attempts uint64, base time.Duration, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(attempts, retry.NewFibonacci(base))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, services.ErrStoreUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (a *app) retryStore(ctx context.Context, fn func(context.Context) error) error {
	return withStoreRetry(ctx, a.cfg.Shared.RetryAttempts, a.cfg.Shared.RetryBackoff, fn)
}
