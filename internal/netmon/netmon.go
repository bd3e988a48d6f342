// Package netmon observes backend connectivity for the sync engine.
//
// The monitor probes the backend on an interval, tracks the connected and
// syncing facets, and invokes the reconciliation trigger exactly once per
// offline-to-online transition. Status changes fan out to registered
// listeners; each callback is independent and best-effort, so one failing
// listener never blocks notification of the others.
package netmon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Status is the connectivity state pair observed by the application.
type Status struct {
	Connected bool `json:"connected"`
	Syncing   bool `json:"syncing"`
}

// Listener receives status updates. Callbacks run synchronously on the
// monitor's goroutine and must not block.
type Listener func(Status)

// Config holds monitor configuration.
type Config struct {
	// Probe checks backend reachability, typically Backend.Ping.
	// A nil error means connected.
	Probe func(ctx context.Context) error

	// ProbeTimeout bounds each probe call. Defaults to 5s.
	ProbeTimeout time.Duration

	// Interval is how often to probe. Defaults to 10s.
	Interval time.Duration

	// OnOnline fires once per offline-to-online transition, typically
	// the supervisor's Trigger.
	OnOnline func()

	// Syncing reports whether a reconciliation is in flight, typically
	// Engine.Syncing. May be nil.
	Syncing func() bool

	// Logger for monitor activity.
	Logger *log.Logger
}

// Monitor tracks connectivity and notifies subscribers of changes.
type Monitor struct {
	config Config

	mu        sync.Mutex
	listeners []Listener
	last      Status
	started   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor. Probe must be non-nil.
func New(config Config) *Monitor {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		config: config,
	}
}

// Subscribe registers a listener for status changes. The listener is
// immediately called with the current status.
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	current := m.last
	m.mu.Unlock()

	safeNotify(l, current, m.config.Logger)
}

// Status returns the last observed status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// NoteSyncing records a syncing transition between probe ticks and notifies
// listeners when the status pair changed. Without it a reconciliation shorter
// than the probe interval would never be observable as syncing=true.
// Connectivity stays as last probed.
func (m *Monitor) NoteSyncing(syncing bool) {
	m.mu.Lock()
	prev := m.last
	next := Status{Connected: prev.Connected, Syncing: syncing}
	changed := next != prev
	m.last = next
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		safeNotify(l, next, m.config.Logger)
	}
}

// Start launches the probe loop. Call Stop to shut down.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop shuts down the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	// Probe immediately so the first status does not wait a full
	// interval.
	m.tick(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one probe and handles the resulting transition.
func (m *Monitor) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	err := m.config.Probe(probeCtx)
	cancel()

	connected := err == nil
	syncing := false
	if m.config.Syncing != nil {
		syncing = m.config.Syncing()
	}

	m.mu.Lock()
	prev := m.last
	next := Status{Connected: connected, Syncing: syncing}
	changed := next != prev
	m.last = next
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if connected && !prev.Connected {
		m.config.Logger.Printf("Backend reachable, triggering reconciliation")
		if m.config.OnOnline != nil {
			m.config.OnOnline()
		}
	} else if !connected && prev.Connected {
		m.config.Logger.Printf("Backend unreachable: %v", err)
	}

	if changed {
		for _, l := range listeners {
			safeNotify(l, next, m.config.Logger)
		}
	}
}

// safeNotify delivers a status update, recovering a panicking listener so
// the remaining listeners are still notified.
func safeNotify(l Listener, s Status, logger *log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("Warning: status listener panicked: %v", r)
		}
	}()
	l(s)
}
