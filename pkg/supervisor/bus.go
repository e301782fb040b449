// Package supervisor runs per-workload supervisor goroutines over a
// bounded event bus, restarting failed workloads with exponential
// backoff and jitter. Grounded on sweetmcp-daemon/src/manager.rs's
// ServiceManager (bounded event bus, health/log-rotate tick cadence,
// schedule-restart-on-stopped, SIGINT/SIGTERM broadcast-then-wait
// shutdown), rendered with goroutines/channels instead of
// crossbeam_channel::select! since Go has no multi-channel select
// macro — a single select statement covers the same cases.
package supervisor

import (
	"time"
)

// EventKind names the bus event variants: State, Health, LogRotate,
// Fatal.
type EventKind int

const (
	EventState EventKind = iota
	EventHealth
	EventLogRotate
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventHealth:
		return "health"
	case EventLogRotate:
		return "log_rotate"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event is a single bus message.
type Event struct {
	Kind      EventKind
	Workload  string
	State     string // for EventState: "starting"|"running"|"stopping"|"stopped"|"restarted"
	Healthy   bool   // for EventHealth
	Message   string // for EventFatal
	Timestamp time.Time
}

// Bus is a bounded, fixed-size event channel. Publishers never block
// longer than a configured budget; an event that cannot be enqueued in
// time is dropped and passed to the onDrop callback, if one is set.
type Bus struct {
	ch     chan Event
	budget time.Duration
	onDrop func(Event)
}

// NewBus creates a bus with the given fixed capacity and publish-block
// budget.
func NewBus(capacity int, publishBudget time.Duration, onDrop func(Event)) *Bus {
	if capacity <= 0 {
		capacity = 128
	}
	return &Bus{ch: make(chan Event, capacity), budget: publishBudget, onDrop: onDrop}
}

// Publish attempts to enqueue evt, dropping it (and invoking onDrop) if
// the bus stays full for longer than the publish budget.
func (b *Bus) Publish(evt Event) {
	if b.budget <= 0 {
		select {
		case b.ch <- evt:
		default:
			if b.onDrop != nil {
				b.onDrop(evt)
			}
		}
		return
	}

	timer := time.NewTimer(b.budget)
	defer timer.Stop()
	select {
	case b.ch <- evt:
	case <-timer.C:
		if b.onDrop != nil {
			b.onDrop(evt)
		}
	}
}

// Events exposes the receive side for the manager's event loop.
func (b *Bus) Events() <-chan Event { return b.ch }
