package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnzeLovse/resolwe/pkg/backend"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// fakeConnector is an in-memory backend.Connector, grounded on the pipeline's
// own reliance on the narrow Connector surface rather than any real SDK.
type fakeConnector struct {
	mu sync.Mutex

	name       string
	priority   int
	objects    map[string][]byte
	hashes     map[string]map[string]string
	hashType   string
	chunkSize  int64
	getErr     error
	getErrOnce error // returned once, then cleared, to test retry success
	pushCalls  int
}

func newFakeConnector(name string) *fakeConnector {
	return &fakeConnector{
		name:     name,
		objects:  make(map[string][]byte),
		hashes:   make(map[string]map[string]string),
		hashType: "md5",
	}
}

var _ backend.Connector = (*fakeConnector)(nil)

func (f *fakeConnector) Name() string  { return f.name }
func (f *fakeConnector) Priority() int { return f.priority }

func (f *fakeConnector) List(ctx context.Context, url string) ([]backend.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeConnector) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErrOnce != nil {
		err := f.getErrOnce
		f.getErrOnce = nil
		return nil, err
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[url]
	if !ok {
		return nil, catalogerrors.NewNotFoundError(url)
	}
	return io.NopCloser(bytesReader(data)), nil
}

func (f *fakeConnector) Push(ctx context.Context, url string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls++
	f.objects[url] = data
	return int64(len(data)), nil
}

func (f *fakeConnector) GetHash(ctx context.Context, url string, hashType string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hashType != f.hashType {
		return "", false, nil
	}
	h, ok := f.hashes[url]
	if !ok {
		return "", false, nil
	}
	v, ok := h[hashType]
	return v, ok, nil
}

func (f *fakeConnector) SetHashes(ctx context.Context, url string, hashes map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[url] = hashes
	return nil
}

func (f *fakeConnector) Delete(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, url)
	return nil
}

func (f *fakeConnector) SupportedDownloadHash() string { return f.hashType }
func (f *fakeConnector) SupportedUploadHash() string   { return f.hashType }
func (f *fakeConnector) MultipartChunkSize() int64     { return f.chunkSize }

func bytesReader(b []byte) io.Reader { return &sliceReader{b: b} }

type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

// fakeMetrics records every call, for assertions on what the Engine reports.
type fakeMetrics struct {
	mu           sync.Mutex
	durations    int
	bytesTotal   int64
	retries      map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{retries: make(map[string]int)} }

func (m *fakeMetrics) ObserveTransferDuration(from, to string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *fakeMetrics) AddBytesTransferred(from, to string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesTotal += n
}

func (m *fakeMetrics) IncRetries(from, to, errorClass string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[errorClass]++
}

func TestTransferCopiesAndVerifies(t *testing.T) {
	t.Parallel()

	from := newFakeConnector("from")
	to := newFakeConnector("to")
	from.objects["file.txt"] = []byte("payload contents")

	metrics := newFakeMetrics()
	engine := New(from, to).WithMetrics(metrics)

	err := engine.Transfer(context.Background(), "file.txt", "file.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload contents"), to.objects["file.txt"])
	assert.Equal(t, 1, metrics.durations)
	assert.Equal(t, int64(len("payload contents")), metrics.bytesTotal)
}

func TestTransferShortCircuitsOnMatchingHash(t *testing.T) {
	t.Parallel()

	from := newFakeConnector("from")
	to := newFakeConnector("to")
	from.objects["file.txt"] = []byte("contents")
	from.hashes["file.txt"] = map[string]string{"md5": "samehash"}
	to.objects["file.txt"] = []byte("stale-but-present")
	to.hashes["file.txt"] = map[string]string{"md5": "samehash"}

	engine := New(from, to)
	require.NoError(t, engine.Transfer(context.Background(), "file.txt", "file.txt"))

	assert.Equal(t, 0, to.pushCalls, "matching hash should skip the transfer pipeline entirely")
}

func TestTransferRetriesTransientErrorThenSucceeds(t *testing.T) {
	t.Parallel()

	from := newFakeConnector("from")
	to := newFakeConnector("to")
	from.objects["file.txt"] = []byte("payload")
	from.getErrOnce = catalogerrors.NewTransientTransferError("file.txt", &net.DNSError{IsTimeout: true})

	metrics := newFakeMetrics()
	engine := New(from, to).WithMetrics(metrics)

	err := engine.Transfer(context.Background(), "file.txt", "file.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), to.objects["file.txt"])
}

func TestTransferNonTransientErrorFailsImmediately(t *testing.T) {
	t.Parallel()

	from := newFakeConnector("from")
	to := newFakeConnector("to")
	from.getErr = errors.New("permanent failure")

	engine := New(from, to)
	err := engine.Transfer(context.Background(), "missing.txt", "missing.txt")
	require.Error(t, err)
	assert.True(t, catalogerrors.IsDataTransferError(err))
}

func TestTransferExhaustsRetriesAndReportsMetrics(t *testing.T) {
	t.Parallel()

	from := newFakeConnector("from")
	to := newFakeConnector("to")
	from.getErr = catalogerrors.NewTransientTransferError("file.txt", &net.DNSError{IsTimeout: true})

	metrics := newFakeMetrics()
	engine := New(from, to).WithMetrics(metrics)

	err := engine.Transfer(context.Background(), "file.txt", "file.txt")
	require.Error(t, err)
	assert.True(t, catalogerrors.IsDataTransferError(err), "exhausted transient retries escalate to a data-transfer error")
	assert.Equal(t, MaxRetries, metrics.retries["TransientTransfer"], "one IncRetries per failed transient attempt, including the last")
}
