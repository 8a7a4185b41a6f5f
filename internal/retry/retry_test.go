package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, 5, 50*time.Millisecond, func() error {
		attempts++
		return errors.New("fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "first attempt runs before the context is consulted")
}

func TestIfErrorIsOnlyRetriesMatchingError(t *testing.T) {
	target := errors.New("retryable")
	other := errors.New("fatal")

	attempts := 0
	err := IfErrorIs(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return other
	}, target)
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, attempts, "non-matching error should not be retried")
}
