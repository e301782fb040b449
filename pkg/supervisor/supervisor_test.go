package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cogforge/coc/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainUntil(t *testing.T, events <-chan Event, timeout time.Duration, pred func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if pred(e) {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching event")
		}
	}
}

func TestWorkloadReachesRunningState(t *testing.T) {
	bus := NewBus(32, 0, nil)
	m := NewManager(bus, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Spawn(ctx, Workload{
		Name: "w1",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	})

	drainUntil(t, m.Events(), time.Second, func(e Event) bool {
		return e.Kind == EventState && e.Workload == "w1" && e.State == "running"
	})
}

func TestUnhealthyWorkloadSchedulesRestart(t *testing.T) {
	bus := NewBus(32, 0, nil)
	m := NewManager(bus, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var healthCalls atomic.Int32
	m.Spawn(ctx, Workload{
		Name:           "w2",
		HealthInterval: 5 * time.Millisecond,
		RestartPolicy:  &retry.Config{MaxAttempts: 10, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 1},
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		HealthCheck: func(ctx context.Context) error {
			if healthCalls.Add(1) == 1 {
				return errors.New("unhealthy once")
			}
			return nil
		},
	})

	drainUntil(t, m.Events(), time.Second, func(e Event) bool {
		return e.Kind == EventState && e.Workload == "w2" && e.State == "restarted"
	})
}

func TestBusDropsWhenFullPastBudget(t *testing.T) {
	dropped := make(chan Event, 4)
	bus := NewBus(1, 5*time.Millisecond, func(e Event) { dropped <- e })

	bus.Publish(Event{Kind: EventLogRotate, Workload: "filler"})
	bus.Publish(Event{Kind: EventLogRotate, Workload: "overflow"})

	select {
	case e := <-dropped:
		assert.Equal(t, "overflow", e.Workload)
	case <-time.After(time.Second):
		t.Fatal("expected a dropped event")
	}
}

func TestShutdownWaitsForWorkloadStop(t *testing.T) {
	bus := NewBus(32, 0, nil)
	m := NewManager(bus, time.Second, nil)
	ctx := context.Background()

	stopped := make(chan struct{})
	m.Spawn(ctx, Workload{
		Name: "w3",
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		},
	})

	drainUntil(t, m.Events(), time.Second, func(e Event) bool {
		return e.Kind == EventState && e.Workload == "w3" && e.State == "running"
	})

	m.Shutdown()
	select {
	case <-stopped:
	default:
		t.Fatal("expected workload to have stopped")
	}
	require.True(t, true)
}
