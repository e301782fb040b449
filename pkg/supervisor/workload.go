package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cogforge/coc/core"
	"github.com/cogforge/coc/pkg/retry"
)

// Workload is a single supervised unit: a run loop, an optional health
// check, and tick cadences for both. Run must return (nil or an error)
// when its context is canceled or when it fails; a non-nil return with
// ctx still live is treated as an unexpected stop and schedules a
// restart.
type Workload struct {
	Name              string
	Run               func(ctx context.Context) error
	HealthCheck       func(ctx context.Context) error
	HealthInterval    time.Duration
	LogRotateInterval time.Duration
	RestartPolicy     *retry.Config
}

func (w *Workload) normalize() {
	if w.HealthInterval <= 0 {
		w.HealthInterval = 30 * time.Second
	}
	if w.LogRotateInterval <= 0 {
		w.LogRotateInterval = time.Hour
	}
	if w.RestartPolicy == nil {
		w.RestartPolicy = retry.DefaultConfig()
	}
}

// workloadSupervisor runs a single Workload's lifecycle: spawn, health
// ticks, log-rotate ticks, and restart-with-backoff on unexpected stop.
type workloadSupervisor struct {
	wl     Workload
	bus    *Bus
	logger core.ComponentAwareLogger

	mu       sync.Mutex
	attempts int

	runCtx    context.Context
	runCancel context.CancelFunc
	runDone   chan struct{}
	runErr    error
}

func newWorkloadSupervisor(wl Workload, bus *Bus, logger core.ComponentAwareLogger) *workloadSupervisor {
	wl.normalize()
	return &workloadSupervisor{wl: wl, bus: bus, logger: logger}
}

func (s *workloadSupervisor) publishState(state string) {
	s.bus.Publish(Event{Kind: EventState, Workload: s.wl.Name, State: state, Timestamp: time.Now()})
}

// run is the supervisor's event loop for this workload; it returns when
// ctx is canceled, after broadcasting a final stopped state.
func (s *workloadSupervisor) run(ctx context.Context) {
	s.publishState("starting")
	s.spawn(ctx)
	s.publishState("running")

	healthTicker := time.NewTicker(s.wl.HealthInterval)
	logTicker := time.NewTicker(s.wl.LogRotateInterval)
	defer healthTicker.Stop()
	defer logTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publishState("stopping")
			s.waitForRunExit()
			s.publishState("stopped")
			return
		case <-healthTicker.C:
			s.tickHealth(ctx)
		case <-logTicker.C:
			s.bus.Publish(Event{Kind: EventLogRotate, Workload: s.wl.Name, Timestamp: time.Now()})
		case <-s.exited():
			s.scheduleRestart(ctx)
		}
	}
}

// spawn launches Run in a goroutine, tracking its context and exit
// channel so the event loop can observe completion without a dedicated
// watchdog goroutine per tick.
func (s *workloadSupervisor) spawn(ctx context.Context) {
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		s.runErr = s.wl.Run(s.runCtx)
	}()
}

func (s *workloadSupervisor) exited() <-chan struct{} {
	return s.runDone
}

func (s *workloadSupervisor) waitForRunExit() {
	if s.runCancel != nil {
		s.runCancel()
	}
	if s.runDone != nil {
		<-s.runDone
	}
}

func (s *workloadSupervisor) tickHealth(ctx context.Context) {
	if s.wl.HealthCheck == nil {
		s.bus.Publish(Event{Kind: EventHealth, Workload: s.wl.Name, Healthy: true, Timestamp: time.Now()})
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
		return
	}
	err := s.wl.HealthCheck(ctx)
	healthy := err == nil
	s.bus.Publish(Event{Kind: EventHealth, Workload: s.wl.Name, Healthy: healthy, Timestamp: time.Now()})
	if healthy {
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
	}
	if !healthy {
		if s.logger != nil {
			s.logger.Warn("workload health check failed, scheduling restart", map[string]interface{}{
				"workload": s.wl.Name, "error": err.Error(),
			})
		}
		s.waitForRunExit()
		s.scheduleRestart(ctx)
	}
}

// scheduleRestart waits for the backoff delay (scaled by consecutive
// failure count) then respawns, unless the context is canceled first.
func (s *workloadSupervisor) scheduleRestart(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	delay := s.wl.RestartPolicy.Delay(attempt)
	if s.logger != nil {
		s.logger.Info("scheduling workload restart", map[string]interface{}{
			"workload": s.wl.Name, "attempt": attempt, "delay_ms": delay.Milliseconds(),
		})
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.publishState("restarted")
	s.spawn(ctx)
}
