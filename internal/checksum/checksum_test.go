package checksum

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum_KnownVectors(t *testing.T) {
	data := "123456789"
	var progress []int64

	c := New(func(done, total int64) {
		progress = append(progress, done)
		assert.Equal(t, int64(len(data)), total)
	})

	sums, err := c.Checksum(context.Background(), strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, "f7c3bc1d808e04732adf679965ccc34ca7ae3441", sums[SHA1])
	assert.Equal(t, "15e2b0d3c33891ebb0f1ef609ec419420c20e320ce94c65fbc8c3312448eb225", sums[SHA256])
	assert.Equal(t, "e3069283", sums[CRC32C])
	assert.Equal(t, "25f9e794323b453885f5181f1b624d0b", sums[S3ETag])
	assert.Equal(t, []int64{9}, progress)
	assert.Len(t, sums, len(Algorithms))
}

func TestChecksum_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(nil).Checksum(ctx, strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPartSize(t *testing.T) {
	assert.Equal(t, MinPartSize, PartSize(0))
	assert.Equal(t, MinPartSize, PartSize(10*1024*1024*1024))
	assert.Equal(t, MinPartSize, PartSize(MinPartSize*MaxParts))
	assert.Equal(t, 2*MinPartSize, PartSize(MinPartSize*MaxParts+1))
	assert.Equal(t, 4*MinPartSize, PartSize(2*MinPartSize*MaxParts+1))
}

func TestETagHash_Multipart(t *testing.T) {
	partSize := int64(4)
	data := []byte("abcdefghij") // parts: abcd efgh ij

	e := newETagHash(partSize)
	// write in uneven pieces to cross part boundaries
	e.Write(data[:3])
	e.Write(data[3:9])
	e.Write(data[9:])

	var concat bytes.Buffer
	for _, p := range []string{"abcd", "efgh", "ij"} {
		sum := md5.Sum([]byte(p))
		concat.Write(sum[:])
	}
	want := md5.Sum(concat.Bytes())

	assert.Equal(t, fmt.Sprintf("%s-3", hex.EncodeToString(want[:])), e.HexDigest())
}

func TestETagHash_ExactPartBoundary(t *testing.T) {
	e := newETagHash(4)
	e.Write([]byte("abcd"))

	sum := md5.Sum([]byte("abcd"))
	assert.Equal(t, hex.EncodeToString(sum[:]), e.HexDigest())
}

func TestETagHash_Empty(t *testing.T) {
	sum := md5.Sum(nil)
	assert.Equal(t, hex.EncodeToString(sum[:]), newETagHash(4).HexDigest())
}
