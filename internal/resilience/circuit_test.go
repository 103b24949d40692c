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

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "ollama", FailureThreshold: 2, Cooldown: time.Minute})
	now := time.Now()
	b.now = func() time.Time { return now }

	fail := func(context.Context) error { return NewTransientError(errors.New("down"), 503) }
	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, CircuitClosed, b.State())
	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, CircuitOpen, b.State())

	var called bool
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, model.ClassTransientNetwork, Classify(err))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	now := time.Now()
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(context.Context) error { return NewTransientError(errors.New("x"), 0) })
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	now := time.Now()
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(context.Context) error { return NewTransientError(errors.New("x"), 0) })
	now = now.Add(2 * time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return NewTransientError(errors.New("still down"), 503)
		})
	}()
	<-started

	var called bool
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	close(release)
	require.Error(t, <-done)
	assert.Equal(t, CircuitOpen, b.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1})
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error {
			return Classifiedf(model.ClassMalformedOutput, "bad json")
		})
	}
	assert.Equal(t, CircuitClosed, b.State())
}

func TestExecuteVal_NilBreaker(t *testing.T) {
	v, err := ExecuteVal(context.Background(), nil, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
