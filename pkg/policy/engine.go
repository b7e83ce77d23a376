// Package policy implements the storage lifecycle's decision maker: pure
// queries over the replica catalog that decide which FileStorages need a new
// replica on a backend (ToCopy) and which existing replicas are safe to
// remove (ToDelete).
//
// Every rule here is grounded directly on resolwe's
// storage/connectors/models.StorageLocationManager test suite
// (storage/tests/test_manager.py): the override-precedence rule and the
// "never delete the current highest-priority replica" rule in particular
// come from reading what that suite asserts, not from the prose spec alone.
package policy

import (
	"context"
	"time"

	"github.com/AnzeLovse/resolwe/pkg/catalog"
)

// Engine evaluates copy/delete candidates against a catalog.Store and a set
// of backend configurations.
type Engine struct {
	store    catalog.Store
	backends map[string]catalog.BackendConfig
	clock    catalog.Clock
}

// New creates a policy Engine. backends is keyed by backend name and is
// treated as read-only for the Engine's lifetime (per the Design Notes'
// "global connector table" guidance, tests inject their own map rather than
// mutate a shared one).
func New(store catalog.Store, backends map[string]catalog.BackendConfig, clock catalog.Clock) *Engine {
	if clock == nil {
		clock = catalog.SystemClock{}
	}
	return &Engine{store: store, backends: backends, clock: clock}
}

// ToCopy returns the FileStorages that should gain a replica on backend B,
// per spec §4.5.1, ordered by FileStorage.Created ascending then ID
// ascending.
func (e *Engine) ToCopy(ctx context.Context, backend string) ([]catalog.FileStorage, error) {
	cfg, ok := e.backends[backend]
	if !ok {
		return nil, nil
	}

	all, err := e.store.AllFileStorages(ctx)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()

	var out []catalog.FileStorage
	for _, fs := range all {
		locs, err := e.store.Locations(ctx, fs.ID)
		if err != nil {
			return nil, err
		}

		if hasAnyLocation(locs, backend) {
			continue
		}

		if !hasDoneLocationOnOtherBackend(locs, backend) {
			continue
		}

		delay, _ := cfg.Copy.EffectiveRule(fs)
		if delay < 0 {
			continue
		}
		if ageInDays(now, fs.Created) < float64(delay) {
			continue
		}

		out = append(out, fs)
	}

	return out, nil
}

// ToDelete returns the FileStorages whose DONE replica on backend B should
// be removed, per spec §4.5.2, ordered by FileStorage.Created ascending then
// ID ascending.
func (e *Engine) ToDelete(ctx context.Context, backend string) ([]catalog.FileStorage, error) {
	cfg, ok := e.backends[backend]
	if !ok {
		return nil, nil
	}

	all, err := e.store.AllFileStorages(ctx)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()

	var out []catalog.FileStorage
	for _, fs := range all {
		locs, err := e.store.Locations(ctx, fs.ID)
		if err != nil {
			return nil, err
		}

		target, ok := findLocation(locs, backend)
		if !ok || target.Status != catalog.StatusDone {
			continue
		}

		if e.IsHighestPriorityDone(target, locs) {
			continue
		}

		delay, minOtherCopies := cfg.Delete.EffectiveRule(fs)
		if delay < 0 {
			continue
		}
		if ageInDays(now, target.LastUpdate) < float64(delay) {
			continue
		}

		if CountOtherDoneReplicas(locs, backend) < minOtherCopies {
			continue
		}

		openLogs, err := e.store.OpenAccessLogs(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		if len(openLogs) > 0 {
			continue
		}

		out = append(out, fs)
	}

	return out, nil
}

// DeleteRule returns the effective delete delay and min_other_copies for fs
// on backend, and whether backend is configured at all. Exported so
// lifecycle.Manager can re-run the min-other-copies check under the
// FileStorage row lock immediately before committing a delete.
func (e *Engine) DeleteRule(fs catalog.FileStorage, backend string) (delay, minOtherCopies int, ok bool) {
	cfg, ok := e.backends[backend]
	if !ok {
		return 0, 0, false
	}
	delay, minOtherCopies = cfg.Delete.EffectiveRule(fs)
	return delay, minOtherCopies, true
}

// IsHighestPriorityDone reports whether target is the highest-priority DONE
// replica among locs, per the invariant that such a replica is never a
// deletion candidate (spec §3, Invariants; P3). Exported so lifecycle.Manager
// can re-run this check under the FileStorage row lock immediately before
// committing a delete.
func (e *Engine) IsHighestPriorityDone(target catalog.StorageLocation, locs []catalog.StorageLocation) bool {
	targetPriority, ok := e.priorityOf(target.Backend)
	if !ok {
		return false
	}

	for _, loc := range locs {
		if loc.Status != catalog.StatusDone {
			continue
		}
		p, ok := e.priorityOf(loc.Backend)
		if !ok {
			continue
		}
		if p > targetPriority {
			return false
		}
	}
	return true
}

func (e *Engine) priorityOf(backend string) (int, bool) {
	cfg, ok := e.backends[backend]
	if !ok {
		return 0, false
	}
	return cfg.Priority, true
}

func hasAnyLocation(locs []catalog.StorageLocation, backend string) bool {
	_, ok := findLocation(locs, backend)
	return ok
}

func findLocation(locs []catalog.StorageLocation, backend string) (catalog.StorageLocation, bool) {
	for _, loc := range locs {
		if loc.Backend == backend {
			return loc, true
		}
	}
	return catalog.StorageLocation{}, false
}

func hasDoneLocationOnOtherBackend(locs []catalog.StorageLocation, backend string) bool {
	for _, loc := range locs {
		if loc.Backend != backend && loc.Status == catalog.StatusDone {
			return true
		}
	}
	return false
}

// CountOtherDoneReplicas returns the number of DONE replicas on backends
// other than backend. Exported so lifecycle.Manager can re-run the
// min-other-copies check under the FileStorage row lock.
func CountOtherDoneReplicas(locs []catalog.StorageLocation, backend string) int {
	n := 0
	for _, loc := range locs {
		if loc.Backend != backend && loc.Status == catalog.StatusDone {
			n++
		}
	}
	return n
}

func ageInDays(now, t time.Time) float64 {
	return now.Sub(t).Hours() / 24
}
