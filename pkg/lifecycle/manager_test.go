package lifecycle

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnzeLovse/resolwe/pkg/backend"
	"github.com/AnzeLovse/resolwe/pkg/catalog"
	"github.com/AnzeLovse/resolwe/pkg/catalog/memory"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
	"github.com/AnzeLovse/resolwe/pkg/policy"
)

// memConnector is an in-memory backend.Connector used to exercise the
// Manager's copy/delete flow without a real storage backend.
type memConnector struct {
	mu       sync.Mutex
	name     string
	priority int
	objects  map[string][]byte
	deleted  []string
}

func newMemConnector(name string, priority int) *memConnector {
	return &memConnector{name: name, priority: priority, objects: make(map[string][]byte)}
}

var _ backend.Connector = (*memConnector)(nil)

func (c *memConnector) Name() string  { return c.name }
func (c *memConnector) Priority() int { return c.priority }

func (c *memConnector) List(ctx context.Context, url string) ([]backend.ObjectInfo, error) {
	return nil, nil
}

func (c *memConnector) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[url]
	if !ok {
		return nil, catalogerrors.NewNotFoundError(url)
	}
	return io.NopCloser(newByteReader(data)), nil
}

func (c *memConnector) Push(ctx context.Context, url string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[url] = data
	return int64(len(data)), nil
}

func (c *memConnector) GetHash(ctx context.Context, url string, hashType string) (string, bool, error) {
	return "", false, nil
}

func (c *memConnector) SetHashes(ctx context.Context, url string, hashes map[string]string) error {
	return nil
}

func (c *memConnector) Delete(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, url)
	c.deleted = append(c.deleted, url)
	return nil
}

func (c *memConnector) SupportedDownloadHash() string { return "" }
func (c *memConnector) SupportedUploadHash() string   { return "" }
func (c *memConnector) MultipartChunkSize() int64     { return 0 }

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func newTestManager(t *testing.T, store *memory.Store, backends map[string]catalog.BackendConfig, conns ...backend.Connector) *Manager {
	t.Helper()
	registry := backend.NewRegistry(conns...)
	engine := policy.New(store, backends, nil)
	return New(store, registry, engine, conns, nil, Config{Interval: time.Minute})
}

// TestManagerCopySingleLocation exercises a full copy_single_location pass:
// a DONE "local" replica with one referenced path becomes a new DONE
// replica on "s3", with the source access log closed afterward.
func TestManagerCopySingleLocation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := memory.New(nil)
	local := newMemConnector("local", 1)
	s3 := newMemConnector("s3", 100)

	fs := catalog.FileStorage{ID: uuid.New(), Created: now.Add(-10 * 24 * time.Hour)}
	store.PutFileStorage(fs)

	srcLoc, err := store.CreateLocation(context.Background(), catalog.StorageLocation{
		FileStorageID: fs.ID, Backend: "local", URL: "fs/1",
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLocationStatus(context.Background(), srcLoc.ID, catalog.StatusDone))
	require.NoError(t, store.AttachPaths(context.Background(), srcLoc.ID, []catalog.ReferencedPath{
		{ID: uuid.New(), Path: "data.txt"},
	}))
	local.objects["fs/1/data.txt"] = []byte("hello")

	backends := map[string]catalog.BackendConfig{
		"local": {Name: "local", Priority: 1},
		"s3":    {Name: "s3", Priority: 100, Copy: catalog.Rule{Delay: 1}},
	}
	mgr := newTestManager(t, store, backends, local, s3)

	err = mgr.copySingleLocation(context.Background(), fs, s3)
	require.NoError(t, err)

	locs, err := store.Locations(context.Background(), fs.ID)
	require.NoError(t, err)
	require.Len(t, locs, 2)

	var destLoc catalog.StorageLocation
	for _, l := range locs {
		if l.Backend == "s3" {
			destLoc = l
		}
	}
	assert.Equal(t, catalog.StatusDone, destLoc.Status)
	assert.Equal(t, []byte("hello"), s3.objects["fs/1/data.txt"])

	openLogs, err := store.OpenAccessLogs(context.Background(), srcLoc.ID)
	require.NoError(t, err)
	assert.Empty(t, openLogs, "access log opened during copy should be closed afterward")
}

// TestManagerCopySingleLocationNoSource verifies that a FileStorage with no
// DONE replica anywhere fails fast with a data-transfer error rather than
// creating an orphaned placeholder.
func TestManagerCopySingleLocationNoSource(t *testing.T) {
	t.Parallel()

	store := memory.New(nil)
	s3 := newMemConnector("s3", 100)
	fs := catalog.FileStorage{ID: uuid.New(), Created: time.Now()}
	store.PutFileStorage(fs)

	backends := map[string]catalog.BackendConfig{"s3": {Name: "s3", Priority: 100}}
	mgr := newTestManager(t, store, backends, s3)

	err := mgr.copySingleLocation(context.Background(), fs, s3)
	require.Error(t, err)
	assert.True(t, catalogerrors.IsDataTransferError(err))

	locs, err := store.Locations(context.Background(), fs.ID)
	require.NoError(t, err)
	assert.Empty(t, locs, "no placeholder should be left behind")
}

// TestManagerDeleteSingleLocation exercises delete_single_location end to
// end: a DONE replica's object is removed from the backend and its
// StorageLocation row is deleted, while a higher-priority DONE replica on
// "gcs" keeps it from being the protected highest-priority one.
func TestManagerDeleteSingleLocation(t *testing.T) {
	t.Parallel()

	store := memory.New(nil)
	s3 := newMemConnector("s3", 100)
	s3.objects["fs/1"] = []byte("contents")

	fs := catalog.FileStorage{ID: uuid.New(), Created: time.Now()}
	store.PutFileStorage(fs)

	loc, err := store.CreateLocation(context.Background(), catalog.StorageLocation{
		FileStorageID: fs.ID, Backend: "s3", URL: "fs/1",
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLocationStatus(context.Background(), loc.ID, catalog.StatusDone))

	gcsLoc, err := store.CreateLocation(context.Background(), catalog.StorageLocation{
		FileStorageID: fs.ID, Backend: "gcs", URL: "fs/1",
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLocationStatus(context.Background(), gcsLoc.ID, catalog.StatusDone))

	backends := map[string]catalog.BackendConfig{
		"s3":  {Name: "s3", Priority: 100},
		"gcs": {Name: "gcs", Priority: 200},
	}
	mgr := newTestManager(t, store, backends, s3)

	require.NoError(t, mgr.deleteSingleLocation(context.Background(), fs, s3))

	_, ok := s3.objects["fs/1"]
	assert.False(t, ok, "object should be deleted from the backend")

	locs, err := store.Locations(context.Background(), fs.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1, "only the gcs replica remains")
	assert.Equal(t, "gcs", locs[0].Backend)
}

// TestManagerDeleteSingleLocationBackendFailureLeavesDeleting verifies that a
// failed backend delete leaves the StorageLocation in DELETING status for a
// later retry, per spec §4.6, rather than rolling back to DONE.
func TestManagerDeleteSingleLocationBackendFailureLeavesDeleting(t *testing.T) {
	t.Parallel()

	store := memory.New(nil)
	s3 := &failingDeleteConnector{memConnector: newMemConnector("s3", 100)}

	fs := catalog.FileStorage{ID: uuid.New(), Created: time.Now()}
	store.PutFileStorage(fs)

	loc, err := store.CreateLocation(context.Background(), catalog.StorageLocation{
		FileStorageID: fs.ID, Backend: "s3", URL: "fs/1",
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLocationStatus(context.Background(), loc.ID, catalog.StatusDone))

	gcsLoc, err := store.CreateLocation(context.Background(), catalog.StorageLocation{
		FileStorageID: fs.ID, Backend: "gcs", URL: "fs/1",
	})
	require.NoError(t, err)
	require.NoError(t, store.SetLocationStatus(context.Background(), gcsLoc.ID, catalog.StatusDone))

	backends := map[string]catalog.BackendConfig{
		"s3":  {Name: "s3", Priority: 100},
		"gcs": {Name: "gcs", Priority: 200},
	}
	mgr := newTestManager(t, store, backends, s3)

	err = mgr.deleteSingleLocation(context.Background(), fs, s3)
	require.Error(t, err)

	locs, err := store.Locations(context.Background(), fs.ID)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	var s3Loc catalog.StorageLocation
	for _, l := range locs {
		if l.Backend == "s3" {
			s3Loc = l
		}
	}
	assert.Equal(t, catalog.StatusDeleting, s3Loc.Status)
}

type failingDeleteConnector struct {
	*memConnector
}

func (c *failingDeleteConnector) Delete(ctx context.Context, url string) error {
	return catalogerrors.NewDataTransferError(url, assertErr)
}

var assertErr = catalogerrors.NewConfigError("simulated backend outage")

// TestSortedByPriorityDesc checks the Manager iterates backends
// highest-priority first, matching spec §4.5's "in priority order" sweep.
func TestSortedByPriorityDesc(t *testing.T) {
	t.Parallel()

	local := newMemConnector("local", 1)
	s3 := newMemConnector("s3", 100)
	gcs := newMemConnector("gcs", 200)

	sorted := sortedByPriorityDesc([]backend.Connector{local, s3, gcs})
	require.Len(t, sorted, 3)
	assert.Equal(t, "gcs", sorted[0].Name())
	assert.Equal(t, "s3", sorted[1].Name())
	assert.Equal(t, "local", sorted[2].Name())
}
