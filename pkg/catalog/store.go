package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence boundary the policy engine and lifecycle manager
// operate against. A production implementation lives in pkg/catalog/postgres;
// pkg/catalog/memory provides a fast in-process fake for unit tests.
type Store interface {
	// Locations returns every StorageLocation for fileStorageID, including
	// non-DONE ones. Callers filter by status as needed.
	Locations(ctx context.Context, fileStorageID uuid.UUID) ([]StorageLocation, error)

	// AllFileStorages returns every FileStorage, ordered by Created ascending
	// then ID ascending, per spec §4.5.4.
	AllFileStorages(ctx context.Context) ([]FileStorage, error)

	// LocationsByBackend returns every StorageLocation on backend with the
	// given status, ordered like AllFileStorages by the owning FileStorage.
	LocationsByBackend(ctx context.Context, backend string, status Status) ([]StorageLocation, error)

	// OpenAccessLogs returns the AccessLog entries for storageLocationID with
	// Finished == nil.
	OpenAccessLogs(ctx context.Context, storageLocationID uuid.UUID) ([]AccessLog, error)

	// CreateLocation inserts a new StorageLocation and returns it with its ID
	// populated. Fails with a catalog/errors ConfigError-class error if
	// (FileStorageID, Backend) already has a row (invariant P1).
	CreateLocation(ctx context.Context, loc StorageLocation) (StorageLocation, error)

	// SetLocationStatus sets the location's status and bumps LastUpdate to
	// now. Callers use it for UPLOADING->DONE and DONE->DELETING; the
	// direction of the transition is not checked.
	SetLocationStatus(ctx context.Context, id uuid.UUID, status Status) error

	// DeleteLocation removes a StorageLocation and detaches its paths,
	// garbage-collecting ReferencedPaths left with no remaining owner.
	DeleteLocation(ctx context.Context, id uuid.UUID) error

	// AttachPaths associates paths with locationID after a successful
	// transfer.
	AttachPaths(ctx context.Context, locationID uuid.UUID, paths []ReferencedPath) error

	// ReferencedPaths returns the paths associated with locationID, used to
	// build the transfer's object list.
	ReferencedPaths(ctx context.Context, locationID uuid.UUID) ([]ReferencedPath, error)

	// OpenAccessLog creates an AccessLog(started=now) referencing
	// storageLocationID.
	OpenAccessLog(ctx context.Context, storageLocationID uuid.UUID) (AccessLog, error)

	// CloseAccessLog sets Finished=now on the given AccessLog.
	CloseAccessLog(ctx context.Context, id uuid.UUID) error

	// WithFileStorageLock acquires a non-blocking exclusive lock on
	// fileStorageID and runs fn while holding it. If the row is already
	// locked, WithFileStorageLock returns a LockContention error from
	// pkg/catalog/errors without calling fn and without blocking.
	WithFileStorageLock(ctx context.Context, fileStorageID uuid.UUID, fn func(ctx context.Context) error) error
}
