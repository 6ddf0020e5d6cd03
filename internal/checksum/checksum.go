// Package checksum computes the digests attached to every uploaded file.
package checksum

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"uploadplane/internal/store"
)

// Algorithm names, which are also the suffixes of the object tags.
const (
	SHA1   = "sha1"
	SHA256 = "sha256"
	CRC32C = "crc32c"
	S3ETag = "s3_etag"
)

// Algorithms lists every digest produced by Checksum, in tag order.
var Algorithms = []string{SHA1, SHA256, CRC32C, S3ETag}

const (
	// MinPartSize is the smallest multipart chunk the upload tooling uses.
	MinPartSize int64 = 64 * 1024 * 1024
	// MaxParts is the S3 limit on parts per multipart upload.
	MaxParts = 10000

	readBufferSize = 8 * 1024 * 1024
)

// ProgressFunc is called after every buffer with the bytes read so far.
type ProgressFunc func(done, total int64)

// PartSize returns the multipart chunk size used for an object of the given size:
// 64 MiB doubled until the object fits in MaxParts parts.
func PartSize(size int64) int64 {
	part := MinPartSize
	for size > part*MaxParts {
		part *= 2
	}
	return part
}

// Checksummer streams an object once and produces every required digest.
type Checksummer struct {
	Progress ProgressFunc
}

// New returns a Checksummer reporting progress through fn, which may be nil.
func New(fn ProgressFunc) *Checksummer {
	return &Checksummer{Progress: fn}
}

// Checksum reads r to EOF. size must be the object's length; it selects the
// multipart chunk size for the etag and is the total passed to Progress.
func (c *Checksummer) Checksum(ctx context.Context, r io.Reader, size int64) (store.Checksums, error) {
	sha1h := sha1.New()
	sha256h := sha256.New()
	crc := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	etag := newETagHash(PartSize(size))

	w := io.MultiWriter(sha1h, sha256h, crc, etag)
	buf := make([]byte, readBufferSize)

	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			done += int64(n)
			if c.Progress != nil {
				c.Progress(done, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read object after %d bytes: %w", done, err)
		}
	}

	return store.Checksums{
		SHA1:   hex.EncodeToString(sha1h.Sum(nil)),
		SHA256: hex.EncodeToString(sha256h.Sum(nil)),
		CRC32C: fmt.Sprintf("%08x", crc.Sum32()),
		S3ETag: etag.HexDigest(),
	}, nil
}

// etagHash reproduces the ETag S3 assigns to a multipart upload: the MD5 of
// the concatenated part MD5s, suffixed with the part count. A single-part
// object gets the plain MD5.
type etagHash struct {
	partSize int64
	written  int64
	current  hash.Hash
	parts    [][]byte
}

func newETagHash(partSize int64) *etagHash {
	return &etagHash{partSize: partSize, current: md5.New()}
}

func (e *etagHash) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := e.partSize - e.written
		chunk := p
		if int64(len(chunk)) > room {
			chunk = p[:room]
		}
		e.current.Write(chunk)
		e.written += int64(len(chunk))
		p = p[len(chunk):]

		if e.written == e.partSize {
			e.parts = append(e.parts, e.current.Sum(nil))
			e.current = md5.New()
			e.written = 0
		}
	}
	return total, nil
}

func (e *etagHash) HexDigest() string {
	parts := e.parts
	if e.written > 0 || len(parts) == 0 {
		parts = append(parts, e.current.Sum(nil))
	}
	if len(parts) == 1 {
		return hex.EncodeToString(parts[0])
	}

	combined := md5.New()
	for _, p := range parts {
		combined.Write(p)
	}
	return fmt.Sprintf("%s-%d", hex.EncodeToString(combined.Sum(nil)), len(parts))
}
