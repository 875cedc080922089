package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(maxFailures, maxRequests int, timeout time.Duration) *CircuitBreaker {
	return New(Config{Name: "test", MaxFailures: maxFailures, MaxRequests: maxRequests, Timeout: timeout, Logger: zerolog.Nop()})
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, 2, time.Hour)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(func() error { return nil })
	assert.Error(t, err, "an open breaker must short-circuit without calling fn")
}

func TestCircuitBreaker_ClosedStateResetsFailureCountOnSuccess(t *testing.T) {
	cb := newTestBreaker(3, 2, time.Hour)
	boom := errors.New("boom")

	require.Error(t, cb.Execute(func() error { return boom }))
	require.Error(t, cb.Execute(func() error { return boom }))
	require.NoError(t, cb.Execute(func() error { return nil }))

	require.Error(t, cb.Execute(func() error { return boom }))
	require.Error(t, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateClosed, cb.GetState(), "two failures after a reset should not be enough to trip a 3-failure breaker")
}

func TestCircuitBreaker_HalfOpenRecoversToClosedOnSuccesses(t *testing.T) {
	cb := newTestBreaker(1, 2, time.Millisecond)
	boom := errors.New("boom")

	require.Error(t, cb.Execute(func() error { return boom }))
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(1, 2, time.Millisecond)
	boom := errors.New("boom")

	require.Error(t, cb.Execute(func() error { return boom }))
	time.Sleep(5 * time.Millisecond)

	require.Error(t, cb.Execute(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
