package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func fastPolicy(attempts int) *Policy {
	return &Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestBackoffRetryer_FirstAttemptSucceeds(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_RetryThenSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(4), zap.NewNop())

	callCount := 0
	transient := errors.New("temporarily unavailable")

	err := retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return transient
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_Exhaustion(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	persistent := errors.New("still broken")

	err := retryer.Do(context.Background(), func() error {
		callCount++
		return persistent
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.ErrorIs(t, err, persistent)
	assert.Equal(t, 3, callCount)
}

func TestBackoffRetryer_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("bad credentials")
	policy := fastPolicy(5)
	policy.IsRetryable = func(err error) bool { return !errors.Is(err, fatal) }

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return fatal
	})

	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhaustedRetries)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_ContextCancelledDuringWait(t *testing.T) {
	policy := &Policy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return errors.New("flaky")
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_DelayGrowth(t *testing.T) {
	policy := &Policy{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Jitter:      false,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{2, 100 * time.Millisecond},
		{3, 200 * time.Millisecond},
		{4, 400 * time.Millisecond},
		{5, 800 * time.Millisecond},
		{6, time.Second}, // capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryer.calculateDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffRetryer_JitterStaysWithinBounds(t *testing.T) {
	policy := &Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
	retryer := NewBackoffRetryer(policy, zap.NewNop()).(*backoffRetryer)

	for i := 0; i < 200; i++ {
		d := retryer.calculateDelay(2)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	var lastErr error

	policy := fastPolicy(3)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
		lastErr = err
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())

	transient := errors.New("throttled")
	callCount := 0
	_ = retryer.Do(context.Background(), func() error {
		callCount++
		if callCount < 3 {
			return transient
		}
		return nil
	})

	assert.Equal(t, []int{2, 3}, attempts, "callback fires before each backed-off attempt")
	assert.Equal(t, transient, lastErr)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestDoWithResultTyped(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	t.Run("success", func(t *testing.T) {
		val, err := DoWithResultTyped[int](retryer, context.Background(), func() (int, error) {
			return 42, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 42, val)
	})

	t.Run("error yields zero value", func(t *testing.T) {
		val, err := DoWithResultTyped[string](retryer, context.Background(), func() (string, error) {
			return "", errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, "", val)
	})
}

// Always-failing transient errors consume exactly MaxAttempts attempts and
// surface ErrExhaustedRetries; a non-retryable error consumes exactly one,
// regardless of the configured bound.
func TestProperty_RetryCeiling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("transient failures are attempted exactly MaxAttempts times", prop.ForAll(
		func(maxAttempts int) bool {
			retryer := NewBackoffRetryer(fastPolicy(maxAttempts), zap.NewNop())

			callCount := 0
			err := retryer.Do(context.Background(), func() error {
				callCount++
				return errors.New("service unavailable")
			})

			return errors.Is(err, ErrExhaustedRetries) && callCount == maxAttempts
		},
		gen.IntRange(1, 6),
	))

	properties.Property("non-retryable failures are attempted exactly once", prop.ForAll(
		func(maxAttempts int) bool {
			fatal := errors.New("invalid credentials")
			policy := fastPolicy(maxAttempts)
			policy.IsRetryable = func(err error) bool { return !errors.Is(err, fatal) }
			retryer := NewBackoffRetryer(policy, zap.NewNop())

			callCount := 0
			err := retryer.Do(context.Background(), func() error {
				callCount++
				return fatal
			})

			return errors.Is(err, fatal) && !errors.Is(err, ErrExhaustedRetries) && callCount == 1
		},
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
