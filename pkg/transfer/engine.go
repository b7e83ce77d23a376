package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AnzeLovse/resolwe/internal/logger"
	"github.com/AnzeLovse/resolwe/internal/telemetry"
	"github.com/AnzeLovse/resolwe/pkg/backend"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// MaxRetries is the number of attempts a single-object transfer gets before
// its last transient error is escalated to a DataTransfer error, matching
// resolwe's ERROR_MAX_RETRIES.
const MaxRetries = 3

// Metrics is the subset of pkg/metrics the Engine reports per-transfer
// outcomes through, per spec §4.10's "transfer duration and byte counts per
// backend pair, retry counts by error class". A nil Metrics is valid and
// every method is a no-op.
type Metrics interface {
	ObserveTransferDuration(fromBackend, toBackend string, d time.Duration)
	AddBytesTransferred(fromBackend, toBackend string, n int64)
	IncRetries(fromBackend, toBackend, errorClass string)
}

// Engine transfers objects between two backend.Connectors.
type Engine struct {
	From    backend.Connector
	To      backend.Connector
	Metrics Metrics
}

// New creates an Engine for copying from `from` to `to`.
func New(from, to backend.Connector) *Engine {
	return &Engine{From: from, To: to}
}

// WithMetrics attaches a Metrics collector and returns the Engine for
// chaining.
func (e *Engine) WithMetrics(m Metrics) *Engine {
	e.Metrics = m
	return e
}

func (e *Engine) incRetries(errorClass string) {
	if e.Metrics != nil {
		e.Metrics.IncRetries(e.From.Name(), e.To.Name(), errorClass)
	}
}

// Transfer copies a single object from fromURL to toURL, making at most
// MaxRetries attempts while the failures are transient, per spec §4.4's retry
// policy. Once the attempts are exhausted the last error is wrapped in a
// DataTransfer error.
func (e *Engine) Transfer(ctx context.Context, fromURL, toURL string) error {
	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		spanCtx, span := telemetry.StartSpan(ctx, "transfer.attempt")
		span.SetAttributes(attribute.Int("attempt", attempt), attribute.String("to_url", toURL))

		hasher, err := e.transferOnce(spanCtx, fromURL, toURL)
		if err != nil {
			telemetry.RecordError(spanCtx, err)
		}
		span.End()

		if err == nil {
			if e.Metrics != nil {
				e.Metrics.ObserveTransferDuration(e.From.Name(), e.To.Name(), time.Since(start))
				if hasher != nil {
					e.Metrics.AddBytesTransferred(e.From.Name(), e.To.Name(), hasher.TotalBytes())
				}
			}
			return nil
		}
		lastErr = err

		if !catalogerrors.IsTransient(err) {
			return err
		}

		e.incRetries(catalogerrors.CodeOf(err).String())
		logger.WarnCtx(ctx, "transfer attempt failed, retrying",
			"from", fromURL, "to", toURL, "attempt", attempt, "error", err)
	}
	return catalogerrors.NewDataTransferError(toURL, lastErr)
}

// transferOnce runs a single transfer attempt and returns the StreamHasher
// used, so the caller can report bytes transferred even though the hasher is
// scoped to this attempt. Returns a nil hasher when the short-circuit
// already-transferred check skipped the pipeline entirely.
func (e *Engine) transferOnce(ctx context.Context, fromURL, toURL string) (*StreamHasher, error) {
	if skip, err := e.alreadyTransferred(ctx, fromURL, toURL); err != nil {
		return nil, err
	} else if skip {
		logger.DebugCtx(ctx, "object already present with matching hash, skipping", "to", toURL)
		return nil, nil
	}

	chunkSize := e.To.MultipartChunkSize()
	hasher := NewStreamHasher(chunkSize)

	hashStream := NewCircularBuffer(0)
	dataStream := NewCircularBuffer(0)

	type result struct {
		stage string
		err   error
	}
	results := make(chan result, 3)

	go func() {
		defer hashStream.CloseWrite()
		results <- result{"download", e.download(ctx, fromURL, hashStream)}
	}()

	go func() {
		defer dataStream.CloseWrite()
		results <- result{"hash", hasher.Compute(dataStream, hashStream)}
	}()

	go func() {
		results <- result{"upload", e.upload(ctx, toURL, dataStream)}
	}()

	var errs []string
	transient := false
	for i := 0; i < 3; i++ {
		r := <-results
		if r.err != nil {
			hashStream.Close()
			dataStream.Close()
			errs = append(errs, fmt.Sprintf("%s: %v", r.stage, r.err))
			if isTransientCause(r.err) {
				transient = true
			}
		}
	}

	if len(errs) > 0 {
		_ = e.To.Delete(ctx, toURL)
		cause := fmt.Errorf("%s", strings.Join(errs, "; "))
		if transient {
			return nil, catalogerrors.NewTransientTransferError(toURL, cause)
		}
		return nil, catalogerrors.NewDataTransferError(toURL, cause)
	}

	if err := e.verify(ctx, fromURL, toURL, hasher); err != nil {
		return nil, err
	}
	return hasher, nil
}

// isTransientCause reports whether err looks like a network-level failure
// (timeout, connection reset/refused, deadline exceeded) worth a whole-retry
// of the transfer, mirroring the connection/timeout exceptions resolwe's
// retry_on_transfer_error decorator retries on.
func isTransientCause(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (e *Engine) download(ctx context.Context, fromURL string, w *CircularBuffer) error {
	if hooked, ok := e.From.(backend.HookedConnector); ok {
		if err := hooked.BeforeGet(ctx, fromURL); err != nil {
			return err
		}
		defer hooked.AfterGet(ctx, fromURL)
	}

	r, err := e.From.Get(ctx, fromURL)
	if err != nil {
		return err
	}
	defer r.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (e *Engine) upload(ctx context.Context, toURL string, r *CircularBuffer) error {
	if hooked, ok := e.To.(backend.HookedConnector); ok {
		if err := hooked.BeforePush(ctx, toURL); err != nil {
			return err
		}
		defer hooked.AfterPush(ctx, toURL)
	}

	_, err := e.To.Push(ctx, toURL, r)
	return err
}

// alreadyTransferred implements the short-circuit hash comparison from spec
// §4.4 step 1: if both connectors support a common hash algorithm and it
// matches, the object is already in place.
func (e *Engine) alreadyTransferred(ctx context.Context, fromURL, toURL string) (bool, error) {
	commonHash := commonHashType(e.From.SupportedDownloadHash(), e.To.SupportedDownloadHash())
	if commonHash == "" {
		return false, nil
	}

	fromHash, ok, err := e.From.GetHash(ctx, fromURL, commonHash)
	if err != nil || !ok {
		return false, nil
	}
	toHash, ok, err := e.To.GetHash(ctx, toURL, commonHash)
	if err != nil || !ok {
		return false, nil
	}

	return fromHash == toHash && fromHash != "", nil
}

func commonHashType(a, b string) string {
	if a != "" && a == b {
		return a
	}
	return ""
}

// verify re-fetches native hashes from both connectors and compares them to
// the hasher's own digests, per spec §4.4 step 3, then persists all computed
// hashes as destination metadata per step 4.
func (e *Engine) verify(ctx context.Context, fromURL, toURL string, hasher *StreamHasher) error {
	downloadHashType := e.From.SupportedDownloadHash()
	uploadHashType := e.To.SupportedUploadHash()

	ok := true
	if downloadHashType != "" {
		fromHash, found, err := e.From.GetHash(ctx, fromURL, downloadHashType)
		if err == nil && found {
			ok = ok && fromHash == hasher.Hexdigest(downloadHashType)
		}
	}
	if uploadHashType != "" {
		toHash, found, err := e.To.GetHash(ctx, toURL, uploadHashType)
		if err == nil && found {
			ok = ok && toHash == hasher.Hexdigest(uploadHashType)
		}
	}

	if !ok {
		_ = e.To.Delete(ctx, toURL)
		return catalogerrors.NewIntegrityError(toURL, downloadHashType)
	}

	hashes := make(map[string]string, len(KnownHashTypes)+2)
	for _, ht := range KnownHashTypes {
		hashes[ht] = hasher.Hexdigest(ht)
	}
	hashes["awss3etag"] = hasher.Hexdigest("awss3etag")
	hashes["_upload_chunk_size"] = fmt.Sprintf("%d", hasher.ChunkSize())

	return e.To.SetHashes(ctx, toURL, hashes)
}

// TransferTree performs the recursive transfer described in spec §4.4's
// transfer_rec: if objects is nil it is obtained via From.List(url), the
// connectors' before/after hooks bracket the whole operation, and every
// non-directory entry is transferred individually.
func (e *Engine) TransferTree(ctx context.Context, url string, objects []string) ([]string, error) {
	if objects == nil {
		listed, err := e.From.List(ctx, url)
		if err != nil {
			return nil, catalogerrors.NewDataTransferError(url, err)
		}
		for _, o := range listed {
			objects = append(objects, o.URL)
		}
	}

	toTransfer, err := e.preProcessing(ctx, url, objects)
	if err != nil {
		return nil, catalogerrors.NewDataTransferError(url, fmt.Errorf("pre-processing: %w", err))
	}

	for _, entry := range toTransfer {
		if strings.HasSuffix(entry, "/") {
			continue
		}
		full := path.Join(url, entry)
		if err := e.Transfer(ctx, full, full); err != nil {
			return nil, err
		}
	}

	stored, err := e.postProcessing(ctx, url, toTransfer)
	if err != nil {
		return nil, catalogerrors.NewDataTransferError(url, fmt.Errorf("post-processing: %w", err))
	}
	return stored, nil
}

func (e *Engine) preProcessing(ctx context.Context, url string, objects []string) ([]string, error) {
	fromHooked, fromOK := e.From.(hookedLister)
	toHooked, toOK := e.To.(hookedLister)

	toTransfer := objects
	if fromOK {
		var err error
		toTransfer, err = fromHooked.BeforeGetList(ctx, url, objects)
		if err != nil {
			return nil, err
		}
	}
	if toOK {
		if _, err := toHooked.BeforePushList(ctx, url, toTransfer); err != nil {
			return nil, err
		}
	}
	return toTransfer, nil
}

func (e *Engine) postProcessing(ctx context.Context, url string, objects []string) ([]string, error) {
	fromHooked, fromOK := e.From.(hookedLister)
	toHooked, toOK := e.To.(hookedLister)

	if fromOK {
		if _, err := fromHooked.AfterGetList(ctx, url, objects); err != nil {
			return nil, err
		}
	}
	stored := objects
	if toOK {
		var err error
		stored, err = toHooked.AfterPushList(ctx, url, objects)
		if err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// hookedLister is an optional interface for connectors that rewrite the
// object list during pre/post processing (e.g. zipping many small files
// into one archive object before upload).
type hookedLister interface {
	BeforeGetList(ctx context.Context, url string, objects []string) ([]string, error)
	AfterGetList(ctx context.Context, url string, objects []string) ([]string, error)
	BeforePushList(ctx context.Context, url string, objects []string) ([]string, error)
	AfterPushList(ctx context.Context, url string, objects []string) ([]string, error)
}
