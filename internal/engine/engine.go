// Package engine orchestrates bidirectional reconciliation between the
// local mirror and the remote backend.
//
// A reconciliation is one push-then-pull cycle: push drains the durable
// operation queue and uploads dirty rows, pull re-downloads the operator's
// scoped rowset and resolves conflicts field by field. Push always precedes
// pull so locally authored changes are never clobbered by a stale pull.
//
// At most one reconciliation runs system-wide; overlapping triggers are
// dropped, not queued. Callers rely on the next connectivity event instead.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/fieldworks/fieldsync/internal/entity"
	"github.com/fieldworks/fieldsync/internal/remote"
	"github.com/fieldworks/fieldsync/internal/resolve"
	"github.com/fieldworks/fieldsync/internal/store"
)

// ErrSyncInProgress is returned when a reconciliation is requested while one
// is already running. The request is dropped, not queued.
var ErrSyncInProgress = errors.New("reconciliation already in progress")

// Config holds engine configuration.
type Config struct {
	// Strategy resolves pull conflicts. Defaults to last_modified.
	Strategy resolve.Strategy

	// MaxAttempts caps queue retries before an operation is parked as
	// exhausted. Defaults to 10.
	MaxAttempts int

	// PruneAbsent deletes synced local rows missing from the remote
	// scoped rowset after a pull. Off by default: the engine does not
	// propagate deletions unless explicitly asked to.
	PruneAbsent bool

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Strategy:    resolve.LastModified,
		MaxAttempts: 10,
		Logger:      log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Report summarizes one reconciliation cycle.
type Report struct {
	Drained   int // queued operations acknowledged by the remote
	Exhausted int // operations parked after hitting the retry cap
	Pushed    int // dirty rows uploaded and acknowledged
	Pulled    int // remote rows written into the mirror
	Conflicts int // record pairs that needed resolution
	Pruned    int // local rows removed by PruneAbsent
	Failed    int // per-row failures skipped during the cycle
	Duration  time.Duration
}

// Engine coordinates the mirror, the queue, and the remote backend.
type Engine struct {
	db      *store.DB
	backend remote.Backend
	config  *Config

	syncing atomic.Bool
}

// New creates an engine over an initialized mirror database and a backend.
func New(db *store.DB, backend remote.Backend, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Strategy == "" {
		config.Strategy = resolve.LastModified
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		db:      db,
		backend: backend,
		config:  config,
	}
}

// Syncing reports whether a reconciliation is currently in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// Reconcile runs one full push-then-pull cycle scoped to the given operator.
// Used on login and on every offline-to-online transition.
//
// Returns ErrSyncInProgress when another cycle is already running.
func (e *Engine) Reconcile(ctx context.Context, operatorID string) (*Report, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	start := time.Now()
	rep := &Report{}

	e.config.Logger.Printf("Starting reconciliation for operator %s", operatorID)

	if err := e.push(ctx, rep); err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("push failed: %w", err)
	}

	if err := e.pull(ctx, operatorID, rep); err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("pull failed: %w", err)
	}

	if err := e.db.SetState(ctx, "last_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.config.Logger.Printf("Warning: failed to record last sync time: %v", err)
	}

	rep.Duration = time.Since(start)
	e.config.Logger.Printf(
		"Reconciliation complete: drained=%d pushed=%d pulled=%d conflicts=%d failed=%d (%v)",
		rep.Drained, rep.Pushed, rep.Pulled, rep.Conflicts, rep.Failed,
		rep.Duration.Round(time.Millisecond))

	return rep, nil
}

// Push uploads local changes without pulling. Takes the same system-wide
// guard as Reconcile.
func (e *Engine) Push(ctx context.Context) (*Report, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	start := time.Now()
	rep := &Report{}
	err := e.push(ctx, rep)
	rep.Duration = time.Since(start)
	return rep, err
}

// Pull downloads the operator's scoped rowset without pushing. Takes the
// same system-wide guard as Reconcile.
func (e *Engine) Pull(ctx context.Context, operatorID string) (*Report, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	start := time.Now()
	rep := &Report{}
	err := e.pull(ctx, operatorID, rep)
	rep.Duration = time.Since(start)
	return rep, err
}

// push drains the operation queue, then uploads dirty rows table by table.
//
// The queue drains first: its payloads are older than the mirror's current
// dirty value, so replaying them before the final upsert keeps the remote
// converging on the latest state.
//
// Per-row rejections are logged and skipped; a transient failure means the
// backend is unreachable and aborts the whole push early, leaving every
// remaining row dirty and every remaining operation pending.
func (e *Engine) push(ctx context.Context, rep *Report) error {
	if err := e.drainQueue(ctx, rep); err != nil {
		return err
	}

	for _, table := range entity.Tables() {
		rows, err := e.db.DirtyRows(ctx, table)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := e.backend.Upsert(ctx, table, row.Fields); err != nil {
				if remote.Transient(err) {
					return err
				}
				// Rejected rows stay dirty; the rest of the push
				// continues.
				e.config.Logger.Printf("Warning: failed to push %s/%s: %v", table, row.ID, err)
				rep.Failed++
				continue
			}

			if err := e.db.MarkSynced(ctx, table, row.ID); err != nil {
				return err
			}
			rep.Pushed++
		}
	}

	return nil
}

// drainQueue replays pending operations in creation order.
//
// After a failed operation, later operations for the same record are skipped
// for the rest of the drain: replaying them would apply a newer mutation
// before the failed older one gets through.
func (e *Engine) drainQueue(ctx context.Context, rep *Report) error {
	ops, err := e.db.PendingOperations(ctx)
	if err != nil {
		return err
	}

	type recordKey struct {
		table entity.Table
		id    string
	}
	blocked := make(map[recordKey]bool)

	for _, op := range ops {
		key := recordKey{op.Table, op.RecordID}
		if blocked[key] {
			continue
		}

		var opErr error
		switch op.Type {
		case store.OpCreate:
			opErr = e.backend.Insert(ctx, op.Table, op.Payload)
		case store.OpUpdate:
			opErr = e.backend.Update(ctx, op.Table, op.RecordID, op.Payload)
		default:
			opErr = fmt.Errorf("unknown operation type: %q", op.Type)
		}

		if opErr == nil {
			if err := e.db.MarkOperationSuccess(ctx, op.ID); err != nil {
				return err
			}
			rep.Drained++
			continue
		}

		attempts, err := e.db.IncrementAttempts(ctx, op.ID)
		if err != nil {
			return err
		}

		if remote.Transient(opErr) {
			return opErr
		}

		// Remote rejection: the payload itself is the problem, so the
		// operation keeps retrying up to the cap and is then parked.
		e.config.Logger.Printf("Warning: operation %s (%s %s/%s) rejected, attempt %d: %v",
			op.ID, op.Type, op.Table, op.RecordID, attempts, opErr)
		rep.Failed++
		blocked[key] = true

		if attempts >= e.config.MaxAttempts {
			if err := e.db.MarkOperationExhausted(ctx, op.ID); err != nil {
				return err
			}
			rep.Exhausted++
			e.config.Logger.Printf("Operation %s exhausted after %d attempts", op.ID, attempts)
		}
	}

	return nil
}

// pull downloads the operator-scoped rowset per table and reconciles it
// with the mirror.
//
// Clean local rows take the remote value directly. Dirty local rows are
// resolved against the remote snapshot with the configured strategy; the
// resolved row is written back synced, since the resolution already
// incorporated the local delta and any pending queue operation carries the
// local value to the remote on the next push.
func (e *Engine) pull(ctx context.Context, operatorID string, rep *Report) error {
	for _, table := range entity.Tables() {
		remoteRows, err := e.backend.VisibleRows(ctx, table, operatorID)
		if err != nil {
			if remote.Transient(err) {
				return err
			}
			// A rejected table fetch skips that table; the rest of the
			// pull continues.
			e.config.Logger.Printf("Warning: failed to fetch %s rows: %v", table, err)
			rep.Failed++
			continue
		}

		seen := make(map[string]bool, len(remoteRows))
		for _, fields := range remoteRows {
			id := fields.ID()
			if id == "" {
				e.config.Logger.Printf("Warning: skipping %s row with no id", table)
				rep.Failed++
				continue
			}
			seen[id] = true

			local, err := e.db.GetRow(ctx, table, id)
			switch {
			case errors.Is(err, store.ErrNotFound):
				local = nil
			case err != nil:
				e.config.Logger.Printf("Warning: failed to read %s/%s: %v", table, id, err)
				rep.Failed++
				continue
			}

			resolved := fields
			if local != nil && !local.Synced {
				res, err := resolve.Resolve(local.Fields, fields, e.config.Strategy)
				if err != nil {
					// Unknown strategy is a programming error; abort
					// instead of retrying.
					return err
				}
				resolved = res.Resolved

				if res.HasConflict {
					rep.Conflicts++
					entry := store.ConflictEntry{
						Table:      table,
						RecordID:   id,
						Resolution: string(res.Strategy),
						LocalData:  local.Fields,
						RemoteData: fields,
					}
					// Best-effort audit; never aborts the pull.
					if err := e.db.LogConflict(ctx, entry); err != nil {
						e.config.Logger.Printf("Warning: failed to log conflict for %s/%s: %v", table, id, err)
					}
				}
			}

			if err := e.db.UpsertRow(ctx, table, resolved, true); err != nil {
				e.config.Logger.Printf("Warning: failed to store %s/%s: %v", table, id, err)
				rep.Failed++
				continue
			}
			rep.Pulled++
		}

		if e.config.PruneAbsent {
			pruned, err := e.db.PruneAbsent(ctx, table, seen)
			if err != nil {
				e.config.Logger.Printf("Warning: failed to prune %s: %v", table, err)
			}
			rep.Pruned += pruned
		}
	}

	return nil
}
