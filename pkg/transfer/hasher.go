package transfer

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"
	"io"
	"strconv"
)

// KnownHashTypes are the hash algorithms StreamHasher always computes,
// mirroring resolwe's StreamHasher.KNOWN_HASH_TYPES. "awss3etag" is computed
// separately since it is a composite (per-chunk) digest, not a single
// streaming hash.
var KnownHashTypes = []string{"md5", "sha256", "crc32c"}

// defaultHasherChunkSize is the composite-etag chunk size used when the
// destination connector declares none.
const defaultHasherChunkSize = 8 << 20

// StreamHasher copies bytes from a reader to a writer while computing
// multiple digests in one pass, including a composite "awss3etag"-style hash
// computed over fixed-size chunks to match S3's multipart ETag format.
type StreamHasher struct {
	chunkSize int64

	md5    hash.Hash
	sha256 hash.Hash
	crc32c hash.Hash32

	etagParts    [][]byte
	chunkHasher  hash.Hash
	chunkWritten int64
	totalBytes   int64
}

// NewStreamHasher creates a StreamHasher. chunkSize controls both the
// composite-etag chunk boundary and should match the destination
// connector's MultipartChunkSize so the computed awss3etag is comparable to
// what S3 itself would report. A non-positive chunkSize falls back to
// defaultHasherChunkSize (8 MiB).
func NewStreamHasher(chunkSize int64) *StreamHasher {
	if chunkSize <= 0 {
		chunkSize = defaultHasherChunkSize
	}
	return &StreamHasher{
		chunkSize:   chunkSize,
		md5:         md5.New(),
		sha256:      sha256.New(),
		crc32c:      crc32.New(crc32.MakeTable(crc32.Castagnoli)),
		chunkHasher: md5.New(),
	}
}

// ChunkSize returns the configured multipart chunk size, stored as
// "_upload_chunk_size" transfer metadata so a later awss3etag comparison
// knows what chunking produced it.
func (h *StreamHasher) ChunkSize() int64 { return h.chunkSize }

// TotalBytes returns the number of bytes hashed so far, used to report
// transfer byte counts per spec §4.10.
func (h *StreamHasher) TotalBytes() int64 { return h.totalBytes }

// Compute copies all of r to w while updating digests, honoring ctx
// cancellation is the caller's responsibility via a context-aware reader;
// Compute itself is synchronous and chunk-bounded.
func (h *StreamHasher) Compute(w io.Writer, r io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := h.write(buf[:n]); err != nil {
				return err
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			h.finishChunk()
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func (h *StreamHasher) write(p []byte) error {
	h.totalBytes += int64(len(p))
	h.md5.Write(p)
	h.sha256.Write(p)
	h.crc32c.Write(p)

	for len(p) > 0 {
		remaining := h.chunkSize - h.chunkWritten
		n := int64(len(p))
		if n > remaining {
			n = remaining
		}
		h.chunkHasher.Write(p[:n])
		h.chunkWritten += n
		p = p[n:]

		if h.chunkWritten == h.chunkSize {
			h.finishChunk()
		}
	}
	return nil
}

func (h *StreamHasher) finishChunk() {
	if h.chunkWritten == 0 {
		return
	}
	h.etagParts = append(h.etagParts, h.chunkHasher.Sum(nil))
	h.chunkHasher = md5.New()
	h.chunkWritten = 0
}

// Hexdigest returns the hex digest for hashType, or "" if unknown.
func (h *StreamHasher) Hexdigest(hashType string) string {
	switch hashType {
	case "md5":
		return hex.EncodeToString(h.md5.Sum(nil))
	case "sha256":
		return hex.EncodeToString(h.sha256.Sum(nil))
	case "crc32c":
		return hex.EncodeToString(h.crc32c.Sum(nil))
	case "awss3etag":
		return h.compositeETag()
	default:
		return ""
	}
}

// compositeETag reproduces S3's multipart ETag format: the hex MD5 of the
// concatenation of each part's MD5 digest, suffixed with "-<num parts>".
// For a single-part object it is just the hex MD5, with no suffix.
func (h *StreamHasher) compositeETag() string {
	if len(h.etagParts) == 0 {
		return hex.EncodeToString(md5.New().Sum(nil))
	}
	if len(h.etagParts) == 1 {
		return hex.EncodeToString(h.etagParts[0])
	}

	combined := md5.New()
	for _, part := range h.etagParts {
		combined.Write(part)
	}
	return hex.EncodeToString(combined.Sum(nil)) + "-" + strconv.Itoa(len(h.etagParts))
}
