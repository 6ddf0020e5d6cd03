package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uploadplane/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryBackend is an in-memory Backend used by definition and scheduler tests.
type memoryBackend struct {
	mu         sync.Mutex
	defs       map[string]Definition
	registered []DefinitionSpec
	submitted  []SubmitRequest
	submitErrs []error
	nextJob    int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{defs: map[string]Definition{}}
}

func (m *memoryBackend) DescribeDefinition(_ context.Context, name string) (*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[name]
	if !ok {
		return nil, ErrDefinitionNotFound
	}
	return &def, nil
}

func (m *memoryBackend) RegisterDefinition(_ context.Context, spec DefinitionSpec) (*Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, spec)
	def := Definition{Name: spec.Name, Handle: "arn:" + spec.Name, Image: spec.Image}
	m.defs[spec.Name] = def
	return &def, nil
}

func (m *memoryBackend) ListDefinitions(context.Context) ([]Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var defs []Definition
	for _, d := range m.defs {
		defs = append(defs, d)
	}
	return defs, nil
}

func (m *memoryBackend) DeregisterDefinition(_ context.Context, def Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs, def.Name)
	return nil
}

func (m *memoryBackend) SubmitJob(_ context.Context, req SubmitRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req)
	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	m.nextJob++
	return fmt.Sprintf("job-%d", m.nextJob), nil
}

func TestDefinitionName_Deterministic(t *testing.T) {
	a := DefinitionName("quay.io/validators/fastq:1.0", "test")
	b := DefinitionName("quay.io/validators/fastq:1.0", "test")
	assert.Equal(t, a, b)
	assert.Equal(t, "upload-test-", a[:len("upload-test-")])
	assert.Len(t, a, len("upload-test-")+40)

	assert.NotEqual(t, a, DefinitionName("quay.io/validators/fastq:1.1", "test"))
	assert.NotEqual(t, a, DefinitionName("quay.io/validators/fastq:1.0", "prod"))
}

func TestDefinitions_FindOrCreate_ReusesDefinition(t *testing.T) {
	backend := newMemoryBackend()
	defs := NewDefinitions(backend, discardLogger())
	ctx := context.Background()

	first, err := defs.FindOrCreate(ctx, "X", "test", "role")
	require.NoError(t, err)
	second, err := defs.FindOrCreate(ctx, "X", "test", "role")
	require.NoError(t, err)

	assert.Equal(t, first.Handle, second.Handle)
	require.Len(t, backend.registered, 1)

	spec := backend.registered[0]
	assert.Equal(t, "X", spec.Image)
	assert.Equal(t, "role", spec.JobRole)
	assert.EqualValues(t, 1, spec.VCPUs)
	assert.EqualValues(t, 1000, spec.MemoryMiB)
	assert.EqualValues(t, 1, spec.RetryAttempts)
	require.Len(t, spec.Volumes, 1)
	assert.Equal(t, "/data", spec.Volumes[0].HostPath)
	assert.Equal(t, "/data", spec.Volumes[0].ContainerPath)
}

type failingDescribe struct{ *memoryBackend }

func (failingDescribe) DescribeDefinition(context.Context, string) (*Definition, error) {
	return nil, errors.New("access denied")
}

func TestDefinitions_FindOrCreate_DescribeError(t *testing.T) {
	backend := newMemoryBackend()
	defs := NewDefinitions(failingDescribe{backend}, discardLogger())

	_, err := defs.FindOrCreate(context.Background(), "X", "test", "role")
	require.Error(t, err)
	assert.Empty(t, backend.registered, "must not register when the lookup failed")
}

func TestDefinitions_ClearAll(t *testing.T) {
	backend := newMemoryBackend()
	defs := NewDefinitions(backend, discardLogger())
	ctx := context.Background()

	for _, img := range []string{"a", "b", "c"} {
		_, err := defs.FindOrCreate(ctx, img, "test", "")
		require.NoError(t, err)
	}

	n, err := defs.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, backend.defs)
}

func TestSanitizeJobName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"csum-test-0b3e-file.fastq.gz", "csum-test-0b3e-filefastqgz"},
		{"validation-dev-area-my file (1).txt", "validation-dev-area-myfile1txt"},
		{"keep_under-scores", "keep_under-scores"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeJobName(tt.in))
	}

	long := SanitizeJobName(fmt.Sprintf("%0200d", 0))
	assert.Len(t, long, MaxNameLength)
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Retryable:   func(err error) bool { return errors.Is(err, ErrThrottled) },
	}
}

func TestScheduler_Submit(t *testing.T) {
	backend := newMemoryBackend()
	s := NewScheduler(backend, "csum-queue", discardLogger())
	def := &Definition{Name: "upload-test-x", Handle: "arn:upload-test-x"}

	id, err := s.Submit(context.Background(), def, "csum-test-area-a.txt", []string{"/checksummer", "s3://b/k"}, map[string]string{"A": "1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	require.Len(t, backend.submitted, 1)
	req := backend.submitted[0]
	assert.Equal(t, "csum-test-area-atxt", req.Name)
	assert.Equal(t, "csum-queue", req.Queue)
	assert.Equal(t, def, req.Definition)
	assert.Equal(t, []string{"/checksummer", "s3://b/k"}, req.Command)
	assert.Equal(t, map[string]string{"A": "1"}, req.Env)
}

func TestScheduler_Submit_RetriesThrottled(t *testing.T) {
	backend := newMemoryBackend()
	backend.submitErrs = []error{ErrThrottled, fmt.Errorf("wrapped: %w", ErrThrottled)}
	s := NewScheduler(backend, "q", discardLogger()).WithPolicy(fastPolicy(5))

	id, err := s.Submit(context.Background(), &Definition{Handle: "h"}, "job", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Len(t, backend.submitted, 3)
}

func TestScheduler_Submit_GivesUpAfterMaxAttempts(t *testing.T) {
	backend := newMemoryBackend()
	for i := 0; i < 10; i++ {
		backend.submitErrs = append(backend.submitErrs, ErrThrottled)
	}
	s := NewScheduler(backend, "q", discardLogger()).WithPolicy(fastPolicy(5))

	_, err := s.Submit(context.Background(), &Definition{Handle: "h"}, "job", nil, nil)
	require.ErrorIs(t, err, ErrThrottled)
	assert.Len(t, backend.submitted, 5)
}

func TestScheduler_Submit_DoesNotRetryOtherErrors(t *testing.T) {
	backend := newMemoryBackend()
	backend.submitErrs = []error{errors.New("invalid queue")}
	s := NewScheduler(backend, "q", discardLogger()).WithPolicy(fastPolicy(5))

	_, err := s.Submit(context.Background(), &Definition{Handle: "h"}, "job", nil, nil)
	require.Error(t, err)
	assert.Len(t, backend.submitted, 1)
}

func isThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
