package checksum

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"uploadplane/internal/retry"
	"uploadplane/internal/store"
)

// ErrTagsNotApplied means the checksum tags could not be verified on the
// object after writing them.
var ErrTagsNotApplied = errors.New("checksum tags not applied")

// TagStore reads and replaces object tags.
type TagStore interface {
	GetTags(ctx context.Context, bucket, key string) (map[string]string, error)
	PutTags(ctx context.Context, bucket, key string, tags map[string]string) error
}

// Tagger writes checksum tags to stored objects and verifies they stuck.
type Tagger struct {
	tags   TagStore
	policy retry.Policy
}

// NewTagger retries a failed write or verification five times, two seconds apart.
func NewTagger(tags TagStore) *Tagger {
	return &Tagger{
		tags:   tags,
		policy: retry.Policy{MaxAttempts: 5, Backoff: retry.Constant(2 * time.Second)},
	}
}

// WithPolicy replaces the retry policy.
func (t *Tagger) WithPolicy(p retry.Policy) *Tagger {
	t.policy = p
	return t
}

// Apply replaces the object's tags with the checksum tags and reads them
// back. It returns the checksums found on the object, or an error wrapping
// ErrTagsNotApplied when they do not match sums after every attempt.
func (t *Tagger) Apply(ctx context.Context, bucket, key string, sums store.Checksums) (store.Checksums, error) {
	if !Complete(sums) {
		return nil, fmt.Errorf("%w: incomplete checksums %v", ErrTagsNotApplied, sums)
	}

	var applied store.Checksums
	err := t.policy.Do(ctx, func(ctx context.Context) error {
		if err := t.tags.PutTags(ctx, bucket, key, Tags(sums)); err != nil {
			return err
		}
		current, err := t.tags.GetTags(ctx, bucket, key)
		if err != nil {
			return err
		}
		applied = FromTags(current)
		if !maps.Equal(applied, sums) {
			return fmt.Errorf("%w: s3://%s/%s carries %d of %d tags", ErrTagsNotApplied, bucket, key, len(applied), len(Algorithms))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTagsNotApplied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTagsNotApplied, err)
	}
	return applied, nil
}

// Present returns the checksum tags on the object and whether all of them
// are there. Overwriting an object drops its tags.
func (t *Tagger) Present(ctx context.Context, bucket, key string) (store.Checksums, bool, error) {
	current, err := t.tags.GetTags(ctx, bucket, key)
	if err != nil {
		return nil, false, err
	}
	sums := FromTags(current)
	return sums, Complete(sums), nil
}
