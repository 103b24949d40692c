package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/model"
)

// recordSleep returns a Sleep hook that records delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.Sleep = recordSleep(&delays)

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, delays)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	var calls int
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 5
	cfg.Sleep = recordSleep(&delays)

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always fails"), 500)
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Exhausted)
	assert.Equal(t, 5, re.Attempts)
	assert.Equal(t, model.ClassTransientNetwork, Classify(err))

	require.Len(t, delays, 4)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
	assert.Equal(t, 32*time.Second, delays[3])
}

func TestDo_PermanentErrorNoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return Classifiedf(model.ClassInvalidDocument, "not a pdf")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, Attempts(err))
	assert.Equal(t, model.ClassInvalidDocument, Classify(err))

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.False(t, re.Exhausted)
}

func TestDo_ContextCancelledStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := DefaultRetryConfig()
	cfg.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	var delays []time.Duration
	cfg := RetryConfig{
		MaxAttempts: 3,
		ShouldRetry: func(err error) bool { return err.Error() == "retry me" },
		Sleep:       recordSleep(&delays),
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("retry me")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.Sleep = recordSleep(&delays)
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("x"), 502)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var delays []time.Duration
	cfg := DefaultRetryConfig()
	cfg.Sleep = recordSleep(&delays)

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", NewTransientError(errors.New("blip"), 0)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Len(t, delays, 1)
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), RetryConfig{MaxAttempts: 1}, func(_ context.Context) (int, error) {
		return 42, errors.New("boom")
	})
	require.Error(t, err)
	assert.Zero(t, val)
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{})
	assert.Equal(t, 4*time.Second, computeBackoff(0, cfg))
	assert.Equal(t, 8*time.Second, computeBackoff(1, cfg))
	assert.Equal(t, 16*time.Second, computeBackoff(2, cfg))
	assert.Equal(t, 60*time.Second, computeBackoff(10, cfg))
}

func TestComputeBackoff_WithJitter(t *testing.T) {
	cfg := applyDefaults(RetryConfig{JitterFraction: 0.5})
	for i := 0; i < 50; i++ {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, 0, Attempts(nil))
	assert.Equal(t, 1, Attempts(errors.New("x")))
	assert.Equal(t, 3, Attempts(&RetryError{Err: errors.New("x"), Attempts: 3}))
}

func TestRetryLogger(t *testing.T) {
	fn := RetryLogger("document", "r1")
	assert.NotPanics(t, func() { fn(1, errors.New("x")) })
}
