// Package gcs implements a Google Cloud Storage backend.Connector.
//
// GCS has no first-party connector in the chosen teacher's stack, so this
// file is grounded on the cloud-ingest agent's copy handler
// (agent/tasks/copy/copy.go), which is the retrieved corpus's only GCS
// transfer implementation: the object-handle-per-operation shape and
// attribute-carried hash metadata it establishes are carried over here,
// built against the modern cloud.google.com/go/storage client rather than
// that agent's legacy raw storage/v1 API.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/AnzeLovse/resolwe/pkg/backend"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// Config configures a Connector.
type Config struct {
	BackendName string
	PriorityN   int
	Bucket      string
	KeyPrefix   string

	// ChunkSize is the resumable-upload chunk size passed to Writer.ChunkSize.
	ChunkSize int64
}

const defaultChunkSize = 16 << 20

// Connector is a GCS-backed backend.Connector.
type Connector struct {
	client *storage.Client
	bucket *storage.BucketHandle
	cfg    Config
}

var _ backend.Connector = (*Connector)(nil)

// New builds a Connector, validating bucket reachability with a metadata
// fetch.
func New(ctx context.Context, client *storage.Client, cfg Config) (*Connector, error) {
	if cfg.Bucket == "" {
		return nil, catalogerrors.NewConfigError("gcs backend: bucket is required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultChunkSize
	}

	bucket := client.Bucket(cfg.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		return nil, catalogerrors.NewConfigError(fmt.Sprintf("gcs backend: bucket %q unreachable: %v", cfg.Bucket, err))
	}

	return &Connector{client: client, bucket: bucket, cfg: cfg}, nil
}

func (c *Connector) Name() string  { return c.cfg.BackendName }
func (c *Connector) Priority() int { return c.cfg.PriorityN }

func (c *Connector) object(url string) string {
	if c.cfg.KeyPrefix == "" {
		return url
	}
	return c.cfg.KeyPrefix + "/" + url
}

func (c *Connector) List(ctx context.Context, url string) ([]backend.ObjectInfo, error) {
	var out []backend.ObjectInfo
	it := c.bucket.Objects(ctx, &storage.Query{Prefix: c.object(url)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, backend.ObjectInfo{URL: stripPrefix(attrs.Name, c.cfg.KeyPrefix), Size: attrs.Size})
	}
	return out, nil
}

func stripPrefix(name, prefix string) string {
	if prefix == "" {
		return name
	}
	return name[len(prefix)+1:]
}

func (c *Connector) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	r, err := c.bucket.Object(c.object(url)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, catalogerrors.NewNotFoundError(url)
		}
		return nil, err
	}
	return r, nil
}

func (c *Connector) Push(ctx context.Context, url string, r io.Reader) (int64, error) {
	w := c.bucket.Object(c.object(url)).NewWriter(ctx)
	w.ChunkSize = int(c.cfg.ChunkSize)

	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Connector) Delete(ctx context.Context, url string) error {
	err := c.bucket.Object(c.object(url)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// GetHash returns the object's native CRC32C checksum (the uint32 from the
// object's attributes) as 8 lowercase hex digits, under hash type "crc32c".
func (c *Connector) GetHash(ctx context.Context, url string, hashType string) (string, bool, error) {
	if hashType != "crc32c" {
		return "", false, nil
	}
	attrs, err := c.bucket.Object(c.object(url)).Attrs(ctx)
	if err != nil {
		return "", false, nil
	}
	return fmt.Sprintf("%08x", attrs.CRC32C), true, nil
}

// SetHashes stores extra hash types as custom object metadata, since GCS
// only computes CRC32C/MD5 natively.
func (c *Connector) SetHashes(ctx context.Context, url string, hashes map[string]string) error {
	if len(hashes) == 0 {
		return nil
	}
	meta := make(map[string]string, len(hashes))
	for k, v := range hashes {
		meta["hash-"+k] = v
	}
	_, err := c.bucket.Object(c.object(url)).Update(ctx, storage.ObjectAttrsToUpdate{Metadata: meta})
	return err
}

func (c *Connector) SupportedDownloadHash() string { return "crc32c" }
func (c *Connector) SupportedUploadHash() string   { return "crc32c" }

func (c *Connector) MultipartChunkSize() int64 { return c.cfg.ChunkSize }
