// Package breaker implements the per-peer circuit breaker manager the
// edge fabric consults before dispatching to a mesh peer or upstream:
// a Hystrix-style Closed/Open/HalfOpen state machine driven by a
// sliding error-rate window, plus a Registry that hands out one
// breaker per peer identity so the edge service never has to manage
// that map itself.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cogforge/coc/core"
)

// CircuitState is one of Closed, Open, or HalfOpen.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MetricsCollector receives circuit breaker lifecycle events for
// external monitoring.
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string, errorType string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string, errorType string)    {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// ErrorClassifier reports whether err should count toward the error
// rate that trips the breaker.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts infrastructure failures only — config,
// not-found, state, and client-cancellation errors are caller mistakes
// or caller decisions, not peer unreliability, and don't belong in the
// error rate.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsConfigurationError(err) || core.IsNotFound(err) || core.IsStateError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// CircuitBreakerConfig configures one peer's breaker.
type CircuitBreakerConfig struct {
	Name string

	// ErrorThreshold is the error rate (0..1) that trips the breaker open.
	ErrorThreshold float64
	// VolumeThreshold is the minimum requests observed before ErrorThreshold is evaluated.
	VolumeThreshold int
	// SleepWindow is how long Open is held before a half-open probe is allowed.
	SleepWindow time.Duration
	// HalfOpenRequests is the number of probe requests admitted per half-open period.
	HalfOpenRequests int
	// SuccessThreshold is validated and defaulted but not consulted by the
	// half-open evaluation: a probe batch closes the breaker only when all
	// HalfOpenRequests probes succeed, and any failed probe reopens it.
	SuccessThreshold float64
	// WindowSize/BucketCount size the sliding error-rate window.
	WindowSize  time.Duration
	BucketCount int

	ErrorClassifier ErrorClassifier
	Logger          core.Logger
	Metrics         MetricsCollector
}

// DefaultConfig returns sane defaults for an edge peer breaker.
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		ErrorThreshold:   0.5,
		VolumeThreshold:  10,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 5,
		SuccessThreshold: 0.6,
		WindowSize:       60 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// Validate checks a config for internally consistent values.
func (c *CircuitBreakerConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.ErrorThreshold < 0 || c.ErrorThreshold > 1 {
		return fmt.Errorf("error threshold must be between 0 and 1, got %f", c.ErrorThreshold)
	}
	if c.VolumeThreshold < 0 {
		return fmt.Errorf("volume threshold must be non-negative, got %d", c.VolumeThreshold)
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 1 {
		return fmt.Errorf("success threshold must be between 0 and 1, got %f", c.SuccessThreshold)
	}
	if c.HalfOpenRequests < 1 {
		return fmt.Errorf("half-open requests must be at least 1, got %d", c.HalfOpenRequests)
	}
	if c.SleepWindow < 0 {
		return fmt.Errorf("sleep window must be non-negative, got %v", c.SleepWindow)
	}
	if c.WindowSize < 0 {
		return fmt.Errorf("window size must be non-negative, got %v", c.WindowSize)
	}
	if c.BucketCount < 1 {
		return fmt.Errorf("bucket count must be at least 1, got %d", c.BucketCount)
	}
	return nil
}

// executionToken tracks one in-flight call so completeExecution can
// credit its outcome to the right half-open probe batch.
type executionToken struct {
	id         uint64
	startTime  time.Time
	isHalfOpen bool
}

// CircuitBreaker guards calls to a single peer.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	state          atomic.Value // CircuitState
	stateChangedAt atomic.Value // time.Time
	generation     uint64

	window *SlidingWindow

	halfOpenCount     atomic.Int32
	halfOpenTotal     atomic.Int32
	halfOpenSuccesses atomic.Int32
	halfOpenFailures  atomic.Int32
	halfOpenTokens    sync.Map // map[uint64]executionToken
	tokenCounter      atomic.Uint64

	forceOpen   atomic.Bool
	forceClosed atomic.Bool

	errorTypeCache sync.Map // map[error]string

	listeners []func(name string, from, to CircuitState)

	mu sync.Mutex

	executionsInFlight atomic.Int32
	totalExecutions    atomic.Uint64
	rejectedExecutions atomic.Uint64
}

// NewCircuitBreaker builds a breaker for one peer's config, applying
// defaults for any zero-valued tunables.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	if config.WindowSize == 0 {
		config.WindowSize = 60 * time.Second
	}
	if config.BucketCount == 0 {
		config.BucketCount = 10
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 0.6
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 5
	}

	cb := &CircuitBreaker{
		config:    config,
		window:    NewSlidingWindowWithLogger(config.WindowSize, config.BucketCount, true, config.Logger, config.Name),
		listeners: make([]func(string, CircuitState, CircuitState), 0),
	}
	cb.state.Store(StateClosed)
	cb.stateChangedAt.Store(time.Now())

	config.Logger.Debug("circuit breaker created", map[string]interface{}{
		"name": config.Name, "error_threshold": config.ErrorThreshold,
		"volume_threshold": config.VolumeThreshold, "sleep_window_ms": config.SleepWindow.Milliseconds(),
	})

	return cb, nil
}

// SetLogger replaces the breaker's logger, tagging it with this
// package's component name regardless of which peer it guards.
func (cb *CircuitBreaker) SetLogger(logger core.Logger) {
	if logger == nil {
		cb.config.Logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		cb.config.Logger = cal.WithComponent("ef/breaker")
	} else {
		cb.config.Logger = logger
	}
}

// Execute runs fn under breaker protection with no timeout.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	return cb.ExecuteWithTimeout(ctx, 0, fn)
}

// ExecuteWithTimeout runs fn under breaker protection, optionally
// bounding its runtime. A call rejected by the breaker returns
// core.ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	startTime := time.Now()

	token, allowed := cb.startExecution()
	if !allowed {
		cb.rejectedExecutions.Add(1)
		cb.config.Metrics.RecordRejection(cb.config.Name)
		cb.config.Logger.Info("circuit breaker rejected execution", map[string]interface{}{
			"name": cb.config.Name, "state": cb.GetState(),
		})
		return fmt.Errorf("circuit breaker '%s' is open: %w", cb.config.Name, core.ErrCircuitOpen)
	}

	cb.executionsInFlight.Add(1)
	defer cb.executionsInFlight.Add(-1)
	cb.totalExecutions.Add(1)

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				var panicErr error
				switch v := r.(type) {
				case error:
					panicErr = fmt.Errorf("panic in circuit breaker: %w\nstack:\n%s", v, stack)
				default:
					panicErr = fmt.Errorf("panic in circuit breaker: %v\nstack:\n%s", v, stack)
				}
				cb.config.Logger.Error("circuit breaker caught panic", map[string]interface{}{
					"name": cb.config.Name, "panic": fmt.Sprintf("%v", r),
				})
				done <- panicErr
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		cb.completeExecution(token, err)
		return err
	case <-ctx.Done():
		// fn is still running; its eventual completion is recorded
		// asynchronously so the breaker doesn't lose the outcome.
		go func() {
			<-done
			cb.completeExecution(token, ctx.Err())
		}()
		return ctx.Err()
	}
}

// startExecution reserves a slot for a new call, or reports that the
// breaker currently rejects calls.
func (cb *CircuitBreaker) startExecution() (executionToken, bool) {
	if cb.forceClosed.Load() {
		return executionToken{}, true
	}
	if cb.forceOpen.Load() {
		return executionToken{}, false
	}

	switch cb.state.Load().(CircuitState) {
	case StateClosed:
		return executionToken{id: cb.tokenCounter.Add(1), startTime: time.Now()}, true

	case StateOpen:
		stateChangedAt := cb.stateChangedAt.Load().(time.Time)
		if time.Since(stateChangedAt) <= cb.config.SleepWindow {
			return executionToken{}, false
		}
		cb.mu.Lock()
		if cb.state.Load().(CircuitState) == StateOpen {
			cb.transitionToUnlocked(StateHalfOpen)
		}
		cb.mu.Unlock()
		return cb.startExecution()

	case StateHalfOpen:
		for {
			current := cb.halfOpenTotal.Load()
			if cb.config.HalfOpenRequests > 0 && int(current) >= cb.config.HalfOpenRequests {
				return executionToken{}, false
			}
			if cb.halfOpenTotal.CompareAndSwap(current, current+1) {
				break
			}
		}
		cb.halfOpenCount.Add(1)
		token := executionToken{id: cb.tokenCounter.Add(1), startTime: time.Now(), isHalfOpen: true}
		cb.halfOpenTokens.Store(token.id, token)
		return token, true

	default:
		return executionToken{}, false
	}
}

// completeExecution records a call's outcome and re-evaluates state.
func (cb *CircuitBreaker) completeExecution(token executionToken, err error) {
	if cb.forceClosed.Load() || cb.forceOpen.Load() {
		return
	}

	if token.isHalfOpen {
		cb.halfOpenTokens.Delete(token.id)
		cb.halfOpenCount.Add(-1)
	}

	if err == nil {
		cb.window.RecordSuccess()
		cb.config.Metrics.RecordSuccess(cb.config.Name)
		if token.isHalfOpen {
			cb.halfOpenSuccesses.Add(1)
		}
	} else if cb.config.ErrorClassifier(err) {
		cb.window.RecordFailure()
		cb.config.Metrics.RecordFailure(cb.config.Name, cb.getErrorType(err))
		if token.isHalfOpen {
			cb.halfOpenFailures.Add(1)
		}
	}

	cb.evaluateState()
}

// getErrorType returns a cached type label for err, avoiding a
// fmt.Sprintf allocation on every repeated error value.
func (cb *CircuitBreaker) getErrorType(err error) string {
	if cached, ok := cb.errorTypeCache.Load(err); ok {
		return cached.(string)
	}
	switch err.(type) {
	case *core.FrameworkError:
		return "*core.FrameworkError"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "DeadlineExceeded"
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}
	errorType := fmt.Sprintf("%T", err)
	cb.errorTypeCache.Store(err, errorType)
	return errorType
}

// evaluateState re-checks whether the current state should transition,
// given the latest window/half-open counters.
func (cb *CircuitBreaker) evaluateState() {
	switch cb.state.Load().(CircuitState) {
	case StateClosed:
		cb.evaluateClosed()
	case StateHalfOpen:
		cb.evaluateHalfOpen()
	}
}

func (cb *CircuitBreaker) evaluateClosed() {
	errorRate := cb.window.GetErrorRate()
	total := cb.window.GetTotal()

	// #nosec G115 - VolumeThreshold is validated non-negative in Validate
	if cb.config.VolumeThreshold <= 0 || total < uint64(cb.config.VolumeThreshold) || errorRate < cb.config.ErrorThreshold {
		return
	}

	cb.config.Logger.Info("circuit breaker opening: error rate exceeded threshold", map[string]interface{}{
		"name": cb.config.Name, "error_rate": errorRate, "error_threshold": cb.config.ErrorThreshold, "total": total,
	})
	cb.mu.Lock()
	cb.transitionToUnlocked(StateOpen)
	cb.mu.Unlock()
}

// evaluateHalfOpen implements "HalfOpen → Open on any failure during
// the probe; HalfOpen → Closed once every probe slot has succeeded."
// A single failed probe reopens immediately rather than waiting for
// the full HalfOpenRequests batch to accumulate.
func (cb *CircuitBreaker) evaluateHalfOpen() {
	failures := cb.halfOpenFailures.Load()
	successes := cb.halfOpenSuccesses.Load()

	if failures > 0 {
		cb.mu.Lock()
		if cb.state.Load().(CircuitState) == StateHalfOpen {
			cb.config.Logger.Info("circuit breaker re-opening: half-open probe failed", map[string]interface{}{
				"name": cb.config.Name, "successes": successes, "failures": failures,
			})
			cb.transitionToUnlocked(StateOpen)
			cb.config.SleepWindow = backoffSleepWindow(cb.config.SleepWindow)
		}
		cb.mu.Unlock()
		return
	}

	if cb.config.HalfOpenRequests <= 0 || int(successes) < cb.config.HalfOpenRequests {
		return
	}

	cb.mu.Lock()
	if cb.state.Load().(CircuitState) == StateHalfOpen {
		cb.config.Logger.Info("circuit breaker recovering to closed", map[string]interface{}{
			"name": cb.config.Name, "successes": successes,
		})
		cb.transitionToUnlocked(StateClosed)
	}
	cb.mu.Unlock()
}

// backoffSleepWindow grows the sleep window by 50% after a failed
// half-open probe, capped at five minutes, so a persistently unhealthy
// peer is probed less and less often.
func backoffSleepWindow(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > 5*time.Minute {
		return 5 * time.Minute
	}
	return next
}

// transitionToUnlocked changes state; callers must hold cb.mu.
func (cb *CircuitBreaker) transitionToUnlocked(newState CircuitState) {
	oldState := cb.state.Load().(CircuitState)
	if oldState == newState {
		return
	}

	cb.state.Store(newState)
	cb.stateChangedAt.Store(time.Now())
	cb.generation++

	if newState == StateHalfOpen {
		cb.halfOpenCount.Store(0)
		cb.halfOpenTotal.Store(0)
		cb.halfOpenSuccesses.Store(0)
		cb.halfOpenFailures.Store(0)
		cb.halfOpenTokens.Range(func(key, value interface{}) bool {
			cb.halfOpenTokens.Delete(key)
			return true
		})
	}

	cb.config.Logger.Info("circuit breaker state changed", map[string]interface{}{
		"name": cb.config.Name, "from": oldState.String(), "to": newState.String(), "error_rate": cb.window.GetErrorRate(),
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())

	for _, listener := range cb.listeners {
		go listener(cb.config.Name, oldState, newState)
	}
}

// AddStateChangeListener registers a callback invoked (in its own
// goroutine) on every state transition.
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, listener)
	cb.mu.Unlock()
}

// GetState returns the breaker's current state as a string.
func (cb *CircuitBreaker) GetState() string {
	return cb.state.Load().(CircuitState).String()
}

// GetMetrics returns a snapshot of the breaker's counters, suitable
// for a debug endpoint or log field.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	success, failure := cb.window.GetCounts()
	metrics := map[string]interface{}{
		"name":                 cb.config.Name,
		"state":                cb.GetState(),
		"generation":           cb.generation,
		"success":              success,
		"failure":              failure,
		"total":                success + failure,
		"error_rate":           cb.window.GetErrorRate(),
		"force_open":           cb.forceOpen.Load(),
		"force_closed":         cb.forceClosed.Load(),
		"executions_in_flight": cb.executionsInFlight.Load(),
		"total_executions":     cb.totalExecutions.Load(),
		"rejected_executions":  cb.rejectedExecutions.Load(),
	}

	if cb.state.Load().(CircuitState) == StateHalfOpen {
		metrics["half_open_count"] = cb.halfOpenCount.Load()
		metrics["half_open_successes"] = cb.halfOpenSuccesses.Load()
		metrics["half_open_failures"] = cb.halfOpenFailures.Load()
		metrics["orphaned_requests"] = cb.countOrphaned(30 * time.Second)
	}
	return metrics
}

func (cb *CircuitBreaker) countOrphaned(maxAge time.Duration) int {
	orphaned := 0
	now := time.Now()
	cb.halfOpenTokens.Range(func(_, value interface{}) bool {
		if now.Sub(value.(executionToken).startTime) > maxAge {
			orphaned++
		}
		return true
	})
	return orphaned
}

// Reset forces the breaker back to Closed and clears its window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state.Load().(CircuitState)
	cb.state.Store(StateClosed)
	cb.stateChangedAt.Store(time.Now())
	cb.halfOpenCount.Store(0)
	cb.halfOpenSuccesses.Store(0)
	cb.halfOpenFailures.Store(0)
	cb.window = NewSlidingWindowWithLogger(cb.config.WindowSize, cb.config.BucketCount, true, cb.config.Logger, cb.config.Name)

	orphaned := 0
	cb.halfOpenTokens.Range(func(key, _ interface{}) bool {
		cb.halfOpenTokens.Delete(key)
		orphaned++
		return true
	})

	cb.config.Logger.Info("circuit breaker reset", map[string]interface{}{
		"name": cb.config.Name, "previous_state": oldState.String(), "orphaned_tokens": orphaned,
	})
}

// ForceOpen manually holds the breaker open regardless of its window.
func (cb *CircuitBreaker) ForceOpen() {
	cb.config.Logger.Info("circuit breaker forced open", map[string]interface{}{"name": cb.config.Name})
	cb.forceOpen.Store(true)
	cb.forceClosed.Store(false)
	cb.mu.Lock()
	if cb.state.Load().(CircuitState) != StateOpen {
		cb.transitionToUnlocked(StateOpen)
	}
	cb.mu.Unlock()
}

// ForceClosed manually holds the breaker closed regardless of its window.
func (cb *CircuitBreaker) ForceClosed() {
	cb.config.Logger.Info("circuit breaker forced closed", map[string]interface{}{"name": cb.config.Name})
	cb.forceClosed.Store(true)
	cb.forceOpen.Store(false)
	cb.mu.Lock()
	if cb.state.Load().(CircuitState) != StateClosed {
		cb.transitionToUnlocked(StateClosed)
	}
	cb.mu.Unlock()
}

// ClearForce releases a manual ForceOpen/ForceClosed override.
func (cb *CircuitBreaker) ClearForce() {
	cb.forceOpen.Store(false)
	cb.forceClosed.Store(false)
	cb.config.Logger.Info("circuit breaker manual override cleared", map[string]interface{}{
		"name": cb.config.Name, "state": cb.GetState(),
	})
}

// CleanupOrphanedRequests fails and clears half-open tokens older than
// maxAge, for a probe whose caller never reported an outcome (e.g. the
// goroutine it ran in was killed).
func (cb *CircuitBreaker) CleanupOrphanedRequests(maxAge time.Duration) int {
	cleaned := 0
	now := time.Now()
	cb.halfOpenTokens.Range(func(key, value interface{}) bool {
		token, ok := value.(executionToken)
		if !ok {
			return true
		}
		if now.Sub(token.startTime) > maxAge {
			cb.halfOpenTokens.Delete(key)
			cb.completeExecution(token, errors.New("request orphaned"))
			cleaned++
		}
		return true
	})
	if cleaned > 0 {
		cb.config.Logger.Warn("orphaned half-open requests cleaned up", map[string]interface{}{
			"name": cb.config.Name, "cleaned": cleaned, "max_age_ms": maxAge.Milliseconds(),
		})
	}
	return cleaned
}

// Registry hands out one CircuitBreaker per peer identity, building it
// lazily from a caller-supplied config factory the first time a peer is
// seen. Safe for concurrent use across HTTP handler goroutines.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*CircuitBreaker
	configFor func(peerID string) *CircuitBreakerConfig
}

// NewRegistry creates a Registry. configFor may be nil to always use
// DefaultConfig with the breaker named "edge-peer-<peer id>".
func NewRegistry(configFor func(peerID string) *CircuitBreakerConfig) *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker), configFor: configFor}
}

// For returns the breaker for peerID, creating it on first use.
func (r *Registry) For(peerID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[peerID]; ok {
		return b
	}

	cfg := DefaultConfig()
	cfg.Name = "edge-peer-" + peerID
	if r.configFor != nil {
		if c := r.configFor(peerID); c != nil {
			cfg = c
		}
	}
	b, _ := NewCircuitBreaker(cfg)
	r.breakers[peerID] = b
	return b
}

// bucket is one slot of the sliding error-rate window.
type bucket struct {
	timestamp time.Time
	success   uint64
	failure   uint64
}

// SlidingWindow tracks success/failure counts over a rolling duration,
// split into fixed buckets that rotate out as they age past windowSize.
type SlidingWindow struct {
	buckets      []bucket
	windowSize   time.Duration
	bucketSize   time.Duration
	currentIdx   int
	lastRotation time.Time
	mu           sync.RWMutex
	monotonic    bool

	logger core.Logger
	name   string
}

// NewSlidingWindow creates a window without time-skew logging.
func NewSlidingWindow(windowSize time.Duration, bucketCount int, monotonic bool) *SlidingWindow {
	return NewSlidingWindowWithLogger(windowSize, bucketCount, monotonic, nil, "")
}

// NewSlidingWindowWithLogger creates a window that logs a warning if
// the system clock ever moves backward across a rotation.
func NewSlidingWindowWithLogger(windowSize time.Duration, bucketCount int, monotonic bool, logger core.Logger, name string) *SlidingWindow {
	if bucketCount <= 0 {
		bucketCount = 10
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	bucketSize := windowSize / time.Duration(bucketCount)
	buckets := make([]bucket, bucketCount)
	now := time.Now()
	for i := range buckets {
		buckets[i].timestamp = now
	}

	return &SlidingWindow{
		buckets: buckets, windowSize: windowSize, bucketSize: bucketSize,
		lastRotation: now, monotonic: monotonic, logger: logger, name: name,
	}
}

// rotateBuckets advances the window's ring buffer to the present,
// resetting entirely if the clock appears to have moved backward.
func (sw *SlidingWindow) rotateBuckets() {
	now := time.Now()

	var elapsed time.Duration
	if sw.monotonic {
		elapsed = now.Sub(sw.lastRotation)
	} else {
		elapsed = now.Sub(sw.buckets[sw.currentIdx].timestamp)
	}

	if elapsed < 0 {
		sw.logger.Warn("sliding window time skew detected, resetting", map[string]interface{}{
			"name": sw.name, "elapsed_ns": elapsed.Nanoseconds(),
		})
		sw.reset()
		return
	}

	if elapsed < sw.bucketSize {
		return
	}

	bucketsToRotate := int(elapsed / sw.bucketSize)
	if bucketsToRotate > len(sw.buckets) {
		bucketsToRotate = len(sw.buckets)
	}
	for i := 0; i < bucketsToRotate; i++ {
		sw.currentIdx = (sw.currentIdx + 1) % len(sw.buckets)
		sw.buckets[sw.currentIdx] = bucket{timestamp: now}
	}
	sw.lastRotation = now
}

func (sw *SlidingWindow) reset() {
	now := time.Now()
	for i := range sw.buckets {
		sw.buckets[i] = bucket{timestamp: now}
	}
	sw.currentIdx = 0
	sw.lastRotation = now
}

// RecordSuccess records a successful call in the current bucket.
func (sw *SlidingWindow) RecordSuccess() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateBuckets()
	atomic.AddUint64(&sw.buckets[sw.currentIdx].success, 1)
}

// RecordFailure records a failed call in the current bucket.
func (sw *SlidingWindow) RecordFailure() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotateBuckets()
	atomic.AddUint64(&sw.buckets[sw.currentIdx].failure, 1)
}

// GetCounts sums success/failure across buckets still inside windowSize.
func (sw *SlidingWindow) GetCounts() (success, failure uint64) {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	cutoff := time.Now().Add(-sw.windowSize)
	for i := range sw.buckets {
		b := &sw.buckets[i]
		if b.timestamp.After(cutoff) {
			success += atomic.LoadUint64(&b.success)
			failure += atomic.LoadUint64(&b.failure)
		}
	}
	return success, failure
}

// GetErrorRate returns failure/(success+failure), or 0 with no data.
func (sw *SlidingWindow) GetErrorRate() float64 {
	success, failure := sw.GetCounts()
	total := success + failure
	if total == 0 {
		return 0
	}
	return float64(failure) / float64(total)
}

// GetTotal returns success+failure across the window.
func (sw *SlidingWindow) GetTotal() uint64 {
	success, failure := sw.GetCounts()
	return success + failure
}
