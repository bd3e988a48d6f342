package netmon

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errDown = errors.New("connection refused")

// flipProbe is a probe whose reachability can be toggled from the test.
type flipProbe struct {
	up atomic.Bool
}

func (p *flipProbe) probe(ctx context.Context) error {
	if p.up.Load() {
		return nil
	}
	return errDown
}

func testMonitor(t *testing.T, config Config) *Monitor {
	t.Helper()
	config.Logger = log.New(io.Discard, "", 0)
	if config.Interval <= 0 {
		config.Interval = time.Hour // ticks are driven manually
	}
	return New(config)
}

func TestTickTracksConnectivity(t *testing.T) {
	probe := &flipProbe{}
	m := testMonitor(t, Config{Probe: probe.probe})
	ctx := context.Background()

	m.tick(ctx)
	if m.Status().Connected {
		t.Error("status should start disconnected while the probe fails")
	}

	probe.up.Store(true)
	m.tick(ctx)
	if !m.Status().Connected {
		t.Error("status should flip to connected once the probe succeeds")
	}
}

func TestOnOnlineFiresOncePerTransition(t *testing.T) {
	probe := &flipProbe{}
	var triggers atomic.Int32
	m := testMonitor(t, Config{
		Probe:    probe.probe,
		OnOnline: func() { triggers.Add(1) },
	})
	ctx := context.Background()

	// Offline: no trigger.
	m.tick(ctx)
	m.tick(ctx)
	if n := triggers.Load(); n != 0 {
		t.Fatalf("triggers = %d while offline, want 0", n)
	}

	// Coming online triggers exactly once, staying online does not.
	probe.up.Store(true)
	m.tick(ctx)
	m.tick(ctx)
	m.tick(ctx)
	if n := triggers.Load(); n != 1 {
		t.Errorf("triggers = %d after coming online, want 1", n)
	}

	// A second offline-to-online round trip triggers again.
	probe.up.Store(false)
	m.tick(ctx)
	probe.up.Store(true)
	m.tick(ctx)
	if n := triggers.Load(); n != 2 {
		t.Errorf("triggers = %d after the second transition, want 2", n)
	}
}

func TestSubscribeReceivesCurrentStatusImmediately(t *testing.T) {
	probe := &flipProbe{}
	probe.up.Store(true)
	m := testMonitor(t, Config{Probe: probe.probe})
	m.tick(context.Background())

	got := make(chan Status, 1)
	m.Subscribe(func(s Status) { got <- s })

	select {
	case s := <-got:
		if !s.Connected {
			t.Error("subscriber should see the current connected status")
		}
	default:
		t.Fatal("subscriber was not called on registration")
	}
}

func TestListenersNotifiedOnChangeOnly(t *testing.T) {
	probe := &flipProbe{}
	m := testMonitor(t, Config{Probe: probe.probe})
	ctx := context.Background()
	m.tick(ctx) // settle the initial disconnected status

	var mu sync.Mutex
	var seen []Status
	m.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	m.tick(ctx) // still offline: no change, no notification
	probe.up.Store(true)
	m.tick(ctx) // change
	m.tick(ctx) // no change

	mu.Lock()
	defer mu.Unlock()
	// One immediate call at Subscribe plus one for the transition.
	if len(seen) != 2 {
		t.Fatalf("listener called %d times, want 2", len(seen))
	}
	if seen[1].Connected != true {
		t.Errorf("transition status = %+v, want connected", seen[1])
	}
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	probe := &flipProbe{}
	m := testMonitor(t, Config{Probe: probe.probe})
	ctx := context.Background()
	m.tick(ctx)

	var called atomic.Bool
	m.Subscribe(func(Status) { panic("listener bug") })
	m.Subscribe(func(Status) { called.Store(true) })
	called.Store(false) // ignore the registration call

	probe.up.Store(true)
	m.tick(ctx)

	if !called.Load() {
		t.Error("second listener must still be notified after the first panics")
	}
}

func TestSyncingFacetReported(t *testing.T) {
	probe := &flipProbe{}
	probe.up.Store(true)
	syncing := atomic.Bool{}
	syncing.Store(true)
	m := testMonitor(t, Config{
		Probe:   probe.probe,
		Syncing: syncing.Load,
	})

	m.tick(context.Background())
	s := m.Status()
	if !s.Connected || !s.Syncing {
		t.Errorf("status = %+v, want connected and syncing", s)
	}
}

func TestNoteSyncingNotifiesBetweenTicks(t *testing.T) {
	probe := &flipProbe{}
	probe.up.Store(true)
	m := testMonitor(t, Config{Probe: probe.probe})
	ctx := context.Background()
	m.tick(ctx)

	var mu sync.Mutex
	var seen []Status
	m.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	// A cycle starting and finishing between two probes must still be
	// observable through the listener.
	m.NoteSyncing(true)
	if s := m.Status(); !s.Syncing || !s.Connected {
		t.Errorf("status = %+v, want connected and syncing", s)
	}
	m.NoteSyncing(true) // no change, no notification
	m.NoteSyncing(false)

	mu.Lock()
	defer mu.Unlock()
	// One immediate call at Subscribe plus one per transition.
	if len(seen) != 3 {
		t.Fatalf("listener called %d times, want 3", len(seen))
	}
	if !seen[1].Syncing || seen[2].Syncing {
		t.Errorf("transitions = %+v, %+v, want syncing then idle", seen[1], seen[2])
	}
}

func TestStartStop(t *testing.T) {
	probe := &flipProbe{}
	probe.up.Store(true)
	var triggers atomic.Int32
	m := New(Config{
		Probe:    probe.probe,
		Interval: 10 * time.Millisecond,
		OnOnline: func() { triggers.Add(1) },
		Logger:   log.New(io.Discard, "", 0),
	})

	m.Start()
	m.Start() // second Start is a no-op

	deadline := time.After(5 * time.Second)
	for triggers.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("probe loop never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Stop()
	m.Stop() // second Stop is a no-op

	if !m.Status().Connected {
		t.Error("status should be connected after the loop probed")
	}
}
