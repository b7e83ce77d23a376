// Package local implements a filesystem-backed backend.Connector, grounded
// on the atomic-rename write pattern used by dittofs's filesystem block
// store (pkg/payload/store/fs).
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AnzeLovse/resolwe/pkg/backend"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
)

// Config configures a local Connector.
type Config struct {
	Name       string
	BasePath   string
	PriorityN  int
	DirMode    os.FileMode
	FileMode   os.FileMode
	ChunkSize  int64
}

// DefaultConfig returns a Config with conventional permissions.
func DefaultConfig(name, basePath string, priority int) Config {
	return Config{
		Name:      name,
		BasePath:  basePath,
		PriorityN: priority,
		DirMode:   0o755,
		FileMode:  0o644,
		ChunkSize: 64 << 20,
	}
}

// Connector is a filesystem-backed backend.Connector. Content hashes are
// kept in a sidecar "<path>.hashes" file since the local filesystem has no
// native metadata store.
type Connector struct {
	mu  sync.Mutex
	cfg Config
}

var _ backend.Connector = (*Connector)(nil)

// New creates a Connector rooted at cfg.BasePath, creating it if necessary.
func New(cfg Config) (*Connector, error) {
	if cfg.BasePath == "" {
		return nil, catalogerrors.NewConfigError("local backend: base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0o755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0o644
	}
	if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
		return nil, catalogerrors.NewConfigError("local backend: " + err.Error())
	}
	return &Connector{cfg: cfg}, nil
}

func (c *Connector) Name() string { return c.cfg.Name }
func (c *Connector) Priority() int { return c.cfg.PriorityN }

func (c *Connector) resolve(url string) string {
	return filepath.Join(c.cfg.BasePath, filepath.FromSlash(url))
}

func (c *Connector) List(_ context.Context, url string) ([]backend.ObjectInfo, error) {
	root := c.resolve(url)
	var out []backend.ObjectInfo
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".hashes") {
			return nil
		}
		rel, err := filepath.Rel(c.cfg.BasePath, path)
		if err != nil {
			return err
		}
		out = append(out, backend.ObjectInfo{URL: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (c *Connector) Get(_ context.Context, url string) (io.ReadCloser, error) {
	f, err := os.Open(c.resolve(url))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, catalogerrors.NewNotFoundError(url)
		}
		return nil, err
	}
	return f, nil
}

func (c *Connector) Push(_ context.Context, url string, r io.Reader) (int64, error) {
	path := c.resolve(url)
	if err := os.MkdirAll(filepath.Dir(path), c.cfg.DirMode); err != nil {
		return 0, err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, c.cfg.FileMode)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

func (c *Connector) Delete(_ context.Context, url string) error {
	path := c.resolve(url)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	os.Remove(path + ".hashes")
	return nil
}

func (c *Connector) GetHash(_ context.Context, url string, hashType string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.resolve(url) + ".hashes")
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	hashes := decodeHashFile(data)
	v, ok := hashes[hashType]
	return v, ok, nil
}

func (c *Connector) SetHashes(_ context.Context, url string, hashes map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.resolve(url) + ".hashes"
	return os.WriteFile(path, encodeHashFile(hashes), c.cfg.FileMode)
}

// SupportedDownloadHash and SupportedUploadHash both return "md5": the MD5
// is read from the object's ".hashes" sidecar, which exists only once
// SetHashes has written it (as transfer.Engine does after a verified
// transfer). transfer.Engine compares it against the MD5 its StreamHasher
// computes during every transfer.
func (c *Connector) SupportedDownloadHash() string { return "md5" }
func (c *Connector) SupportedUploadHash() string   { return "md5" }

func (c *Connector) MultipartChunkSize() int64 { return c.cfg.ChunkSize }

func encodeHashFile(hashes map[string]string) []byte {
	keys := make([]string, 0, len(hashes))
	for k := range hashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(hashes[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func decodeHashFile(data []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
