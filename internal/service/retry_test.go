package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Defaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 60*time.Second, p.AttemptTimeout)
	assert.Equal(t, time.Duration(0), p.Backoff)
}

func TestRetryPolicy_Run(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, AttemptTimeout: 50 * time.Millisecond}

	t.Run("succeeds on second attempt", func(t *testing.T) {
		var attempts []int
		err := policy.Run(context.Background(), func(ctx context.Context, attempt int) error {
			attempts = append(attempts, attempt)
			if attempt < 2 {
				return errors.New("not yet")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("exhausts after max attempts", func(t *testing.T) {
		calls := 0
		err := policy.Run(context.Background(), func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("still failing")
		})
		assert.EqualError(t, err, "still failing")
		assert.Equal(t, 3, calls)
	})

	t.Run("each attempt has its own deadline", func(t *testing.T) {
		var deadlines []time.Time
		err := policy.Run(context.Background(), func(ctx context.Context, attempt int) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			deadlines = append(deadlines, deadline)
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		require.Len(t, deadlines, 3)
		assert.True(t, deadlines[2].After(deadlines[0]))
	})

	t.Run("parent cancellation stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryPolicy{MaxAttempts: 5, AttemptTimeout: time.Second, Backoff: time.Second}.Run(ctx, func(ctx context.Context, attempt int) error {
			calls++
			cancel()
			return errors.New("boom")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
