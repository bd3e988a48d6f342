package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// Result is the terminal outcome of one supervised reconciliation.
type Result struct {
	Report *Report
	Err    error
	At     time.Time
}

// Supervisor owns the reconciliation lifecycle for a long-running process.
//
// Triggers arrive from the network monitor or the CLI; the supervisor runs
// them one at a time on its own goroutine and publishes every terminal
// result on a channel the caller may subscribe to. Triggers that arrive
// while a cycle is running are dropped, matching the engine's guard.
type Supervisor struct {
	engine     *Engine
	operatorID string
	logger     *log.Logger

	triggers chan struct{}
	results  chan Result
	onStart  func()

	wg sync.WaitGroup
}

// NewSupervisor creates a supervisor for the given operator scope.
// If logger is nil, a default logger writing to stderr is used.
func NewSupervisor(engine *Engine, operatorID string, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.New(os.Stderr, "[supervisor] ", log.LstdFlags)
	}
	return &Supervisor{
		engine:     engine,
		operatorID: operatorID,
		logger:     logger,
		triggers:   make(chan struct{}, 1),
		results:    make(chan Result, 16),
	}
}

// OnCycleStart registers fn to run just before each reconciliation cycle
// begins, so callers can surface the in-flight state for cycles that finish
// between connectivity probes. Must be set before Start.
func (s *Supervisor) OnCycleStart(fn func()) {
	s.onStart = fn
}

// Start launches the supervisor loop. Stop by cancelling ctx, then Wait.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the supervisor loop has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Trigger requests a reconciliation. Non-blocking: when a trigger is
// already queued or a cycle is running, the request is dropped and the
// caller relies on the next connectivity event.
func (s *Supervisor) Trigger() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// Results returns the channel carrying every terminal reconciliation
// outcome, success or failure.
func (s *Supervisor) Results() <-chan Result {
	return s.results
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.triggers:
			if s.onStart != nil {
				s.onStart()
			}
			rep, err := s.engine.Reconcile(ctx, s.operatorID)
			if errors.Is(err, ErrSyncInProgress) {
				continue
			}
			if err != nil {
				s.logger.Printf("Reconciliation failed: %v", err)
			}

			res := Result{Report: rep, Err: err, At: time.Now()}
			select {
			case s.results <- res:
			default:
				// Nobody draining results; drop rather than block
				// the loop.
			}
		}
	}
}
