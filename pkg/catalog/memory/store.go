// Package memory provides an in-process Store implementation backed by plain
// maps and a mutex. It is used by unit tests for the policy engine and
// lifecycle manager so those suites do not require a running Postgres
// instance; the production implementation lives in pkg/catalog/postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnzeLovse/resolwe/pkg/catalog"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// Store is an in-memory catalog.Store.
type Store struct {
	mu sync.Mutex

	clock catalog.Clock

	fileStorages map[uuid.UUID]catalog.FileStorage
	locations    map[uuid.UUID]catalog.StorageLocation
	accessLogs   map[uuid.UUID]catalog.AccessLog
	paths        map[uuid.UUID][]catalog.ReferencedPath // keyed by locationID

	locked map[uuid.UUID]bool
}

// New creates an empty Store. A zero-value clock defaults to the system
// clock.
func New(clock catalog.Clock) *Store {
	if clock == nil {
		clock = catalog.SystemClock{}
	}
	return &Store{
		clock:        clock,
		fileStorages: make(map[uuid.UUID]catalog.FileStorage),
		locations:    make(map[uuid.UUID]catalog.StorageLocation),
		accessLogs:   make(map[uuid.UUID]catalog.AccessLog),
		paths:        make(map[uuid.UUID][]catalog.ReferencedPath),
		locked:       make(map[uuid.UUID]bool),
	}
}

// PutFileStorage inserts or replaces a FileStorage, for test fixture setup.
func (s *Store) PutFileStorage(fs catalog.FileStorage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileStorages[fs.ID] = fs
}

// SetLastUpdate backdates a StorageLocation's LastUpdate directly, for tests
// that need to simulate an aged replica without waiting on the real clock.
func (s *Store) SetLastUpdate(id uuid.UUID, when time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return
	}
	loc.LastUpdate = when
	s.locations[id] = loc
}

func (s *Store) AllFileStorages(_ context.Context) ([]catalog.FileStorage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]catalog.FileStorage, 0, len(s.fileStorages))
	for _, fs := range s.fileStorages {
		out = append(out, fs)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) Locations(_ context.Context, fileStorageID uuid.UUID) ([]catalog.StorageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.StorageLocation
	for _, loc := range s.locations {
		if loc.FileStorageID == fileStorageID {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out, nil
}

func (s *Store) LocationsByBackend(_ context.Context, backend string, status catalog.Status) ([]catalog.StorageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.StorageLocation
	for _, loc := range s.locations {
		if loc.Backend == backend && loc.Status == status {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := s.fileStorages[out[i].FileStorageID], s.fileStorages[out[j].FileStorageID]
		if !fi.Created.Equal(fj.Created) {
			return fi.Created.Before(fj.Created)
		}
		return fi.ID.String() < fj.ID.String()
	})
	return out, nil
}

func (s *Store) OpenAccessLogs(_ context.Context, storageLocationID uuid.UUID) ([]catalog.AccessLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []catalog.AccessLog
	for _, al := range s.accessLogs {
		if al.StorageLocationID == storageLocationID && al.Open() {
			out = append(out, al)
		}
	}
	return out, nil
}

func (s *Store) CreateLocation(_ context.Context, loc catalog.StorageLocation) (catalog.StorageLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.locations {
		if existing.FileStorageID == loc.FileStorageID && existing.Backend == loc.Backend {
			return catalog.StorageLocation{}, catalogerrors.NewConfigError("duplicate storage location for (file_storage, backend)")
		}
	}

	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	loc.LastUpdate = s.clock.Now()
	s.locations[loc.ID] = loc
	return loc, nil
}

func (s *Store) SetLocationStatus(_ context.Context, id uuid.UUID, status catalog.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return catalogerrors.NewNotFoundError(id.String())
	}
	loc.Status = status
	loc.LastUpdate = s.clock.Now()
	s.locations[id] = loc
	return nil
}

func (s *Store) DeleteLocation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[id]; !ok {
		return catalogerrors.NewNotFoundError(id.String())
	}
	delete(s.locations, id)
	delete(s.paths, id)
	return nil
}

func (s *Store) AttachPaths(_ context.Context, locationID uuid.UUID, paths []catalog.ReferencedPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[locationID] = append(s.paths[locationID], paths...)
	return nil
}

func (s *Store) ReferencedPaths(_ context.Context, locationID uuid.UUID) ([]catalog.ReferencedPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.ReferencedPath(nil), s.paths[locationID]...), nil
}

func (s *Store) OpenAccessLog(_ context.Context, storageLocationID uuid.UUID) (catalog.AccessLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	al := catalog.AccessLog{ID: uuid.New(), StorageLocationID: storageLocationID, Started: s.clock.Now()}
	s.accessLogs[al.ID] = al
	return al, nil
}

func (s *Store) CloseAccessLog(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	al, ok := s.accessLogs[id]
	if !ok {
		return catalogerrors.NewNotFoundError(id.String())
	}
	now := s.clock.Now()
	al.Finished = &now
	s.accessLogs[id] = al
	return nil
}

// WithFileStorageLock emulates SELECT ... FOR UPDATE SKIP LOCKED with a
// per-ID boolean flag: if the row is already marked locked, it returns a
// LockContention error immediately without blocking, matching the
// production Postgres store's non-blocking acquisition semantics.
func (s *Store) WithFileStorageLock(ctx context.Context, fileStorageID uuid.UUID, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	if s.locked[fileStorageID] {
		s.mu.Unlock()
		return catalogerrors.NewLockContentionError(fileStorageID.String())
	}
	s.locked[fileStorageID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.locked, fileStorageID)
		s.mu.Unlock()
	}()

	return fn(ctx)
}
