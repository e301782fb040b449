package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogforge/coc/core"
)

func TestCircuitBreakerStateTransitions(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "peer-1",
		ErrorThreshold:   0.5,
		VolumeThreshold:  5,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 2,
		SuccessThreshold: 0.5,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}

	cb, err := NewCircuitBreaker(config)
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.GetState())

	for i := 0; i < 6; i++ {
		execErr := cb.Execute(context.Background(), func() error {
			return errors.New("upstream error")
		})
		assert.Error(t, execErr)
	}
	assert.Equal(t, "open", cb.GetState())

	rejectErr := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, rejectErr, core.ErrCircuitOpen)

	time.Sleep(250 * time.Millisecond)

	for i := 0; i < config.HalfOpenRequests; i++ {
		execErr := cb.Execute(context.Background(), func() error { return nil })
		assert.NoError(t, execErr)
	}
	assert.Equal(t, "closed", cb.GetState())
}

// TestCircuitBreakerHalfOpenReopensOnFirstFailure exercises the breaker
// config and traffic pattern from the half-open probe scenario: a single
// failing probe must reopen the breaker immediately, without waiting for
// the remaining HalfOpenRequests probes to complete.
func TestCircuitBreakerHalfOpenReopensOnFirstFailure(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "peer-3",
		ErrorThreshold:   0.5,
		VolumeThreshold:  20,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.5,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
	cb, err := NewCircuitBreaker(config)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		failThis := i < 10
		_ = cb.Execute(context.Background(), func() error {
			if failThis {
				return errors.New("upstream error")
			}
			return nil
		})
	}
	require.Equal(t, "open", cb.GetState())

	time.Sleep(150 * time.Millisecond)

	// First half-open probe fails: the breaker must reopen immediately,
	// not wait for the other two configured probe slots.
	probeErr := cb.Execute(context.Background(), func() error { return errors.New("still failing") })
	assert.Error(t, probeErr)
	assert.Equal(t, "open", cb.GetState())
}

func TestRegistryReturnsStablePerPeerBreaker(t *testing.T) {
	reg := NewRegistry(nil)

	a := reg.For("peer-a")
	b := reg.For("peer-a")
	assert.Same(t, a, b, "repeated lookups for the same peer must return the same breaker")

	other := reg.For("peer-b")
	assert.NotSame(t, a, other)
}

func TestCircuitBreakerErrorClassificationIgnoresUserErrors(t *testing.T) {
	config := &CircuitBreakerConfig{
		Name:             "peer-2",
		ErrorThreshold:   0.5,
		VolumeThreshold:  3,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
	cb, err := NewCircuitBreaker(config)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		execErr := cb.Execute(context.Background(), func() error {
			return core.ErrNotFound
		})
		assert.Error(t, execErr)
	}
	assert.Equal(t, "closed", cb.GetState(), "not-found errors are user errors and shouldn't count")

	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return core.ErrConnectionFailed
		})
	}
	assert.Equal(t, "open", cb.GetState(), "connection failures are infrastructure errors and should count")
}

func TestCircuitBreakerForceOverrides(t *testing.T) {
	cb, err := NewCircuitBreaker(DefaultConfig())
	require.NoError(t, err)

	cb.ForceOpen()
	assert.Equal(t, "open", cb.GetState())
	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return nil }), core.ErrCircuitOpen)

	cb.ForceClosed()
	assert.Equal(t, "closed", cb.GetState())
	assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	cb.ClearForce()
}

func TestSlidingWindowErrorRate(t *testing.T) {
	sw := NewSlidingWindow(time.Second, 10, true)
	for i := 0; i < 3; i++ {
		sw.RecordSuccess()
	}
	for i := 0; i < 1; i++ {
		sw.RecordFailure()
	}
	assert.InDelta(t, 0.25, sw.GetErrorRate(), 0.001)
	assert.EqualValues(t, 4, sw.GetTotal())
}
