package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cogforge/coc/core"
)

// Manager is the top-level in-process supervisor over all workloads,
// the Go rendering of ServiceManager: one goroutine per workload
// instead of one OS thread, a shared Bus instead of a crossbeam channel,
// context cancellation instead of polled signal globals.
type Manager struct {
	bus             *Bus
	logger          core.ComponentAwareLogger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	supervisors map[string]*workloadSupervisor
	cancels     map[string]context.CancelFunc
	done        map[string]chan struct{}
}

// NewManager creates a Manager with the given bus and shutdown drain
// budget; Shutdown applies that one deadline to all workloads together.
func NewManager(bus *Bus, shutdownTimeout time.Duration, logger core.ComponentAwareLogger) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Manager{
		bus:             bus,
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
		supervisors:     make(map[string]*workloadSupervisor),
		cancels:         make(map[string]context.CancelFunc),
		done:            make(map[string]chan struct{}),
	}
}

// Spawn registers and starts a workload's supervisor goroutine.
func (m *Manager) Spawn(parent context.Context, wl Workload) {
	ctx, cancel := context.WithCancel(parent)
	ws := newWorkloadSupervisor(wl, m.bus, m.logger)
	done := make(chan struct{})

	m.mu.Lock()
	m.supervisors[wl.Name] = ws
	m.cancels[wl.Name] = cancel
	m.done[wl.Name] = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ws.run(ctx)
	}()
}

// Events exposes the bus's receive side for observers.
func (m *Manager) Events() <-chan Event { return m.bus.Events() }

// Run blocks until ctx is canceled or a SIGINT/SIGTERM is received, then
// broadcasts Shutdown to every workload and waits up to shutdownTimeout
// in total for all of them to stop before returning.
func (m *Manager) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		if m.logger != nil {
			m.logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
		}
	}

	m.Shutdown()
}

// Shutdown cancels every workload and waits (bounded) for each to finish
// its drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	dones := make([]chan struct{}, 0, len(m.done))
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	for _, d := range m.done {
		dones = append(dones, d)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}

	deadline := time.After(m.shutdownTimeout)
	for _, d := range dones {
		select {
		case <-d:
		case <-deadline:
			if m.logger != nil {
				m.logger.Warn("shutdown timed out waiting for workloads to stop", nil)
			}
			return
		}
	}
}
