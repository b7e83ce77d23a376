// Package catalog defines the persistent data model of the replica inventory
// (FileStorage, ReferencedPath, StorageLocation, AccessLog) and the store
// interface the policy engine and lifecycle manager query and mutate against.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a StorageLocation.
type Status string

const (
	// StatusUploading means the replica's transfer is in flight; invisible to
	// policy queries.
	StatusUploading Status = "UPLOADING"

	// StatusDone means the replica is complete and eligible as a copy source,
	// a delete candidate, or for minimum-copies accounting.
	StatusDone Status = "DONE"

	// StatusDeleting means the replica's deletion is in flight; invisible to
	// policy queries.
	StatusDeleting Status = "DELETING"
)

// FileStorage is a logical file set produced by one upstream process.
type FileStorage struct {
	ID      uuid.UUID
	Created time.Time

	// ProcessType and DataSlug identify the producing process, denormalized
	// onto this row so the policy engine can resolve per-process-type and
	// per-data-slug overrides without a second lookup.
	ProcessType string
	DataSlug    string
}

// ReferencedPath is a relative path belonging to one or more FileStorages.
type ReferencedPath struct {
	ID   uuid.UUID
	Path string

	// Size and Hashes are optional metadata populated once at least one
	// replica has completed a transfer that reported them.
	Size   *int64
	Hashes map[string]string
}

// StorageLocation is one replica of one FileStorage on one backend.
type StorageLocation struct {
	ID            uuid.UUID
	FileStorageID uuid.UUID
	Backend       string
	URL           string
	Status        Status
	LastUpdate    time.Time
}

// AccessLog records that a DONE replica was read as a transfer source.
type AccessLog struct {
	ID                uuid.UUID
	StorageLocationID uuid.UUID
	Started           time.Time
	Finished          *time.Time
}

// Open reports whether the access log entry has no recorded finish time,
// meaning the replica it references is still "in use" per the data model's
// definition.
func (a AccessLog) Open() bool { return a.Finished == nil }

// Clock is an injectable source of the current time, so policy decisions and
// lifecycle sweeps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
