package checksum

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uploadplane/internal/retry"
	"uploadplane/internal/store"
)

type memoryTags struct {
	tags     map[string]string
	puts     int
	dropPuts int // puts silently ignored
	putErr   error
}

func (m *memoryTags) GetTags(context.Context, string, string) (map[string]string, error) {
	out := make(map[string]string, len(m.tags))
	for k, v := range m.tags {
		out[k] = v
	}
	return out, nil
}

func (m *memoryTags) PutTags(_ context.Context, _, _ string, tags map[string]string) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	if m.puts <= m.dropPuts {
		return nil
	}
	m.tags = tags
	return nil
}

var fullSums = store.Checksums{
	SHA1:   "f7c3bc1d808e04732adf679965ccc34ca7ae3441",
	SHA256: "15e2b0d3c33891ebb0f1ef609ec419420c20e320ce94c65fbc8c3312448eb225",
	CRC32C: "e3069283",
	S3ETag: "25f9e794323b453885f5181f1b624d0b",
}

func fastTagger(tags TagStore) *Tagger {
	return NewTagger(tags).WithPolicy(retry.Policy{MaxAttempts: 5})
}

func TestTagger_Apply(t *testing.T) {
	mem := &memoryTags{tags: map[string]string{"owner": "someone"}}

	applied, err := fastTagger(mem).Apply(context.Background(), "b", "k", fullSums)
	require.NoError(t, err)
	assert.Equal(t, fullSums, applied)
	assert.Len(t, mem.tags, 4)
	assert.Equal(t, fullSums[SHA256], mem.tags["hca-dss-sha256"])
}

func TestTagger_Apply_RetriesUntilTagsStick(t *testing.T) {
	mem := &memoryTags{dropPuts: 2}

	_, err := fastTagger(mem).Apply(context.Background(), "b", "k", fullSums)
	require.NoError(t, err)
	assert.Equal(t, 3, mem.puts)
}

func TestTagger_Apply_FailsWhenTagsNeverStick(t *testing.T) {
	mem := &memoryTags{dropPuts: 100}

	_, err := fastTagger(mem).Apply(context.Background(), "b", "k", fullSums)
	require.ErrorIs(t, err, ErrTagsNotApplied)
	assert.Equal(t, 5, mem.puts)
}

func TestTagger_Apply_WrapsStorageErrors(t *testing.T) {
	mem := &memoryTags{putErr: errors.New("access denied")}

	_, err := fastTagger(mem).Apply(context.Background(), "b", "k", fullSums)
	require.ErrorIs(t, err, ErrTagsNotApplied)
}

func TestTagger_Apply_RejectsIncompleteChecksums(t *testing.T) {
	mem := &memoryTags{}

	_, err := fastTagger(mem).Apply(context.Background(), "b", "k", store.Checksums{SHA1: "x"})
	require.ErrorIs(t, err, ErrTagsNotApplied)
	assert.Zero(t, mem.puts)
}

func TestTagger_Present(t *testing.T) {
	mem := &memoryTags{tags: Tags(fullSums)}
	tagger := fastTagger(mem)

	sums, ok, err := tagger.Present(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fullSums, sums)

	delete(mem.tags, "hca-dss-crc32c")
	_, ok, err = tagger.Present(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
