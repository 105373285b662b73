package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/policyhub/policyhub/internal/domain/services"
)

func TestWithStoreRetry_RecoversFromBusyStore(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withStoreRetry(ctx, 4, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("saving document: %w", services.ErrStoreUnavailable)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithStoreRetry_SurfacesAfterAttemptBudget(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withStoreRetry(ctx, 2, time.Millisecond, func(ctx context.Context) error {
		calls++
		return services.ErrStoreUnavailable
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrStoreUnavailable)
	assert.Equal(t, 3, calls)
}

func TestWithStoreRetry_OtherErrorsNotRetried(t *testing.T) {
	ctx := context.Background()

	wantErr := errors.New("validation failed")
	calls := 0
	err := withStoreRetry(ctx, 4, time.Millisecond, func(ctx context.Context) error {
		calls++
		return wantErr
	})

	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}

func TestWithStoreRetry_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := withStoreRetry(ctx, 10, time.Millisecond, func(ctx context.Context) error {
		calls++
		cancel()
		return services.ErrStoreUnavailable
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
