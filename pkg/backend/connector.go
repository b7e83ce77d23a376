// Package backend defines the uniform storage backend interface (spec §4.1)
// and a process-wide registry of configured connectors.
//
// The split between Connector and the optional HookedConnector/HasherConfig
// interfaces mirrors dittofs's content-store capability pattern
// (pkg/content/interface.go, pkg/store/content/store.go): a narrow required
// interface plus optional ones a caller probes for with a type assertion,
// rather than one interface everyone must fully implement.
package backend

import (
	"context"
	"io"
)

// ObjectInfo describes one object returned by List.
type ObjectInfo struct {
	URL  string
	Size int64
}

// Connector is the required surface every storage backend implements: list,
// fetch, push and remove objects, and report/accept content hashes.
type Connector interface {
	// Name identifies the backend, matching the name used in catalog config
	// and policy.BackendConfig.
	Name() string

	// Priority ranks this backend among all configured backends; higher
	// values are preferred as copy sources, and the single highest-priority
	// DONE replica of a FileStorage is never a deletion target (spec
	// invariant on highest-priority replicas). Lower-priority replicas
	// below it are not protected by this rule.
	Priority() int

	// List enumerates objects under url (a prefix).
	List(ctx context.Context, url string) ([]ObjectInfo, error)

	// Get opens url for reading. Callers must Close the returned ReadCloser.
	Get(ctx context.Context, url string) (io.ReadCloser, error)

	// Push writes the content of r to url, returning the number of bytes
	// written.
	Push(ctx context.Context, url string, r io.Reader) (int64, error)

	// GetHash returns a previously stored hash of hashType for url, or
	// ("", false) if unknown.
	GetHash(ctx context.Context, url string, hashType string) (string, bool, error)

	// SetHashes records a set of content hashes for url, keyed by hash type
	// name (e.g. "md5", "crc32c", "awss3etag").
	SetHashes(ctx context.Context, url string, hashes map[string]string) error

	// Delete removes url.
	Delete(ctx context.Context, url string) error

	// SupportedDownloadHash and SupportedUploadHash name the hash type this
	// backend can compute cheaply (e.g. from a HEAD/stat call) when reading
	// from or writing to it, enabling transfer.Engine's short-circuit
	// comparison. Empty string means none.
	SupportedDownloadHash() string
	SupportedUploadHash() string

	// MultipartChunkSize is the chunk size this backend uses for multipart
	// uploads and, by extension, the chunk size transfer.StreamHasher should
	// hash with to produce a comparable composite hash. Zero means the
	// caller's default applies.
	MultipartChunkSize() int64
}

// HookedConnector is implemented by backends that need to run setup/teardown
// work around a transfer, such as provisioning a presigned URL or warming a
// lifecycle rule. Connectors that don't need hooks simply don't implement
// this interface; transfer.Engine probes for it with a type assertion.
type HookedConnector interface {
	Connector

	// BeforeGet/AfterGet bracket a read from this backend acting as a
	// transfer source.
	BeforeGet(ctx context.Context, url string) error
	AfterGet(ctx context.Context, url string) error

	// BeforePush/AfterPush bracket a write to this backend acting as a
	// transfer destination.
	BeforePush(ctx context.Context, url string) error
	AfterPush(ctx context.Context, url string) error
}

// Registry is a process-wide, read-only-after-init table of configured
// connectors, keyed by name. Per the Design Notes' "global connector table"
// guidance, it is built once at startup from config and never mutated
// afterward; tests construct their own scoped Registry instead of mutating
// a shared instance.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry builds a Registry from the given connectors, keyed by their
// Name().
func NewRegistry(connectors ...Connector) *Registry {
	m := make(map[string]Connector, len(connectors))
	for _, c := range connectors {
		m[c.Name()] = c
	}
	return &Registry{connectors: m}
}

// Get returns the connector registered under name, or (nil, false).
func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

// Names returns the registered connector names in no particular order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		out = append(out, name)
	}
	return out
}
