// Package lifecycle implements the periodic sweep driver that copies
// under-replicated FileStorages and deletes over-retained ones, grounded on
// dittofs's transfer worker-pool lifecycle (pkg/payload/transfer/manager.go,
// queue.go: Start/Stop/drain, semaphore-bounded concurrency) adapted from a
// block-transfer queue to a row-locked FileStorage sweep.
package lifecycle

import (
	"context"
	"time"

	"github.com/AnzeLovse/resolwe/internal/logger"
	"github.com/AnzeLovse/resolwe/pkg/backend"
	"github.com/AnzeLovse/resolwe/pkg/catalog"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
	"github.com/AnzeLovse/resolwe/pkg/policy"
	"github.com/AnzeLovse/resolwe/pkg/transfer"
)

// Metrics is the subset of pkg/metrics the Manager reports sweep outcomes
// through. A nil Metrics is valid and every method is a no-op, matching the
// nil-safe optional-metrics pattern.
type Metrics interface {
	ObserveSweepDuration(d time.Duration)
	IncCopies(backend string)
	IncDeletes(backend string)
	IncErrors(backend, op string)
}

// Config configures a Manager.
type Config struct {
	Interval time.Duration
}

// DefaultConfig returns the default 5-minute sweep interval from spec §4.6a.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// Manager runs the periodic replica-lifecycle sweep.
type Manager struct {
	store           catalog.Store
	registry        *backend.Registry
	engine          *policy.Engine
	backends        []backend.Connector
	metrics         Metrics
	transferMetrics transfer.Metrics
	cfg             Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WithTransferMetrics attaches a transfer.Metrics collector used by every
// transfer.Engine the Manager constructs during a sweep, and returns the
// Manager for chaining.
func (m *Manager) WithTransferMetrics(tm transfer.Metrics) *Manager {
	m.transferMetrics = tm
	return m
}

// New creates a Manager. backends lists every configured connector in no
// particular order; the Manager iterates them in Priority descending order
// each sweep.
func New(store catalog.Store, registry *backend.Registry, engine *policy.Engine, backends []backend.Connector, metrics Metrics, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Manager{
		store:    store,
		registry: registry,
		engine:   engine,
		backends: sortedByPriorityDesc(backends),
		metrics:  metrics,
		cfg:      cfg,
	}
}

func sortedByPriorityDesc(backends []backend.Connector) []backend.Connector {
	out := append([]backend.Connector(nil), backends...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority() > out[j-1].Priority(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Start runs sweeps on a ticker until Stop is called, blocking the caller's
// goroutine. Intended to be invoked in its own goroutine by the CLI's start
// command.
func (m *Manager) Start(ctx context.Context) {
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})
	defer close(m.stoppedCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runSweep(ctx)
		}
	}
}

// Stop signals Start to return after its current sweep completes, then
// blocks until it has.
func (m *Manager) Stop() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.stoppedCh
}

// SweepOnce runs a single process() pass synchronously, for the CLI's
// `sweep --once` command.
func (m *Manager) SweepOnce(ctx context.Context) {
	m.runSweep(ctx)
}

func (m *Manager) runSweep(ctx context.Context) {
	start := time.Now()

	copies := m.processCopy(ctx)
	deletes := m.processDelete(ctx)

	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.ObserveSweepDuration(elapsed)
	}
	if elapsed > m.cfg.Interval {
		logger.WarnCtx(ctx, "sweep exceeded configured interval",
			"elapsed", elapsed, "interval", m.cfg.Interval)
	}
	logger.InfoCtx(ctx, "sweep complete", "copies", copies, "deletes", deletes, "elapsed", elapsed)
}

// processCopy runs one copy sub-sweep: loop over backends in priority order,
// acquiring the first lockable candidate from each, until a full pass finds
// nothing acquirable.
func (m *Manager) processCopy(ctx context.Context) int {
	total := 0
	for {
		acquired := false
		for _, b := range m.backends {
			candidates, err := m.engine.ToCopy(ctx, b.Name())
			if err != nil {
				logger.ErrorCtx(ctx, "to_copy query failed", "backend", b.Name(), "error", err)
				continue
			}
			if ok := m.tryOne(ctx, b, candidates, m.copySingleLocation); ok {
				acquired = true
				total++
			}
		}
		if !acquired {
			return total
		}
	}
}

// processDelete runs one delete sub-sweep, mirroring processCopy's loop.
func (m *Manager) processDelete(ctx context.Context) int {
	total := 0
	for {
		acquired := false
		for _, b := range m.backends {
			candidates, err := m.engine.ToDelete(ctx, b.Name())
			if err != nil {
				logger.ErrorCtx(ctx, "to_delete query failed", "backend", b.Name(), "error", err)
				continue
			}
			if ok := m.tryOne(ctx, b, candidates, m.deleteSingleLocation); ok {
				acquired = true
				total++
			}
		}
		if !acquired {
			return total
		}
	}
}

// tryOne attempts to acquire a non-blocking lock on the first candidate and
// run op while holding it, skipping candidates whose lock is contended.
func (m *Manager) tryOne(ctx context.Context, b backend.Connector, candidates []catalog.FileStorage, op func(context.Context, catalog.FileStorage, backend.Connector) error) bool {
	for _, fs := range candidates {
		err := m.store.WithFileStorageLock(ctx, fs.ID, func(ctx context.Context) error {
			return op(ctx, fs, b)
		})
		if err == nil {
			return true
		}
		if catalogerrors.IsLockContentionError(err) {
			continue
		}
		logger.ErrorCtx(ctx, "lifecycle operation failed", "file_storage", fs.ID, "backend", b.Name(), "error", err)
	}
	return false
}

// copySingleLocation implements spec §4.6's copy_single_location: create a
// placeholder UPLOADING location, transfer from the best DONE source, then
// mark it DONE (or roll back the placeholder on failure).
func (m *Manager) copySingleLocation(ctx context.Context, fs catalog.FileStorage, dest backend.Connector) error {
	locs, err := m.store.Locations(ctx, fs.ID)
	if err != nil {
		return err
	}

	source, sourceConn, ok := m.pickSource(locs)
	if !ok {
		return catalogerrors.NewDataTransferError(fs.ID.String(), nil)
	}

	placeholder, err := m.store.CreateLocation(ctx, catalog.StorageLocation{
		FileStorageID: fs.ID,
		Backend:       dest.Name(),
		URL:           source.URL,
		Status:        catalog.StatusUploading,
	})
	if err != nil {
		return err
	}

	accessLog, err := m.store.OpenAccessLog(ctx, source.ID)
	if err != nil {
		return err
	}
	defer m.store.CloseAccessLog(ctx, accessLog.ID)

	paths, err := m.store.ReferencedPaths(ctx, source.ID)
	if err != nil {
		_ = m.store.DeleteLocation(ctx, placeholder.ID)
		return err
	}

	engine := transfer.New(sourceConn, dest).WithMetrics(m.transferMetrics)
	for _, p := range paths {
		if err := engine.Transfer(ctx, joinURL(source.URL, p.Path), joinURL(placeholder.URL, p.Path)); err != nil {
			_ = m.store.DeleteLocation(ctx, placeholder.ID)
			if m.metrics != nil {
				m.metrics.IncErrors(dest.Name(), "copy")
			}
			return err
		}
	}

	if err := m.store.AttachPaths(ctx, placeholder.ID, paths); err != nil {
		return err
	}
	if err := m.store.SetLocationStatus(ctx, placeholder.ID, catalog.StatusDone); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.IncCopies(dest.Name())
	}
	return nil
}

// deleteSingleLocation implements spec §4.6's delete_single_location,
// including the re-check of the highest-priority/min-other-copies
// invariants under the held lock before committing the deletion.
func (m *Manager) deleteSingleLocation(ctx context.Context, fs catalog.FileStorage, src backend.Connector) error {
	locs, err := m.store.Locations(ctx, fs.ID)
	if err != nil {
		return err
	}

	var target *catalog.StorageLocation
	for i := range locs {
		if locs[i].Backend == src.Name() {
			target = &locs[i]
			break
		}
	}
	if target == nil || target.Status != catalog.StatusDone {
		return nil
	}

	if m.engine.IsHighestPriorityDone(*target, locs) {
		return nil
	}
	if _, minOtherCopies, ok := m.engine.DeleteRule(fs, src.Name()); ok {
		if policy.CountOtherDoneReplicas(locs, src.Name()) < minOtherCopies {
			return nil
		}
	}

	if err := m.store.SetLocationStatus(ctx, target.ID, catalog.StatusDeleting); err != nil {
		return err
	}

	if err := src.Delete(ctx, target.URL); err != nil {
		// Leave status=DELETING for a later retry, matching spec §4.6.
		if m.metrics != nil {
			m.metrics.IncErrors(src.Name(), "delete")
		}
		return err
	}

	if err := m.store.DeleteLocation(ctx, target.ID); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.IncDeletes(src.Name())
	}
	return nil
}

// pickSource selects the highest-priority DONE replica among locs as the
// copy source, per spec §4.6's "highest-priority among cheapest eligible"
// tie-break (priority alone, since cost is not modeled).
func (m *Manager) pickSource(locs []catalog.StorageLocation) (catalog.StorageLocation, backend.Connector, bool) {
	var (
		best     catalog.StorageLocation
		bestConn backend.Connector
		bestPrio = -1
		found    bool
	)
	for _, loc := range locs {
		if loc.Status != catalog.StatusDone {
			continue
		}
		conn, ok := m.registry.Get(loc.Backend)
		if !ok {
			continue
		}
		if conn.Priority() > bestPrio {
			best, bestConn, bestPrio, found = loc, conn, conn.Priority(), true
		}
	}
	return best, bestConn, found
}

func joinURL(base, rel string) string {
	if base == "" {
		return rel
	}
	if base[len(base)-1] == '/' {
		return base + rel
	}
	return base + "/" + rel
}
