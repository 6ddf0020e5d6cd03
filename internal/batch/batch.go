// Package batch manages job definitions and submits checksum and validation
// jobs to a batch backend (AWS Batch, Kubernetes or a local Docker daemon).
package batch

import (
	"context"
	"errors"
)

var (
	// ErrThrottled is returned by backends when the scheduler rejected a
	// request for exceeding its rate limit. Submissions retry on it.
	ErrThrottled = errors.New("batch request throttled")

	// ErrDefinitionNotFound is returned when no active definition has the name.
	ErrDefinitionNotFound = errors.New("job definition not found")
)

// Volume mounts a host directory into the job container.
type Volume struct {
	Name          string
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// DefinitionSpec is the template registered for a docker image.
type DefinitionSpec struct {
	Name          string
	Image         string
	JobRole       string
	VCPUs         int32
	MemoryMiB     int32
	RetryAttempts int32
	Volumes       []Volume
}

// Definition is an active, registered job template.
type Definition struct {
	Name string
	// Handle is what the backend expects at submission time
	// (an ARN on AWS, the definition name elsewhere).
	Handle string
	Image  string
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	Name       string
	Queue      string
	Definition *Definition
	Command    []string
	Env        map[string]string
}

// Backend is a batch scheduler that can hold job definitions and run jobs.
type Backend interface {
	// DescribeDefinition returns the active definition with the given name,
	// or ErrDefinitionNotFound.
	DescribeDefinition(ctx context.Context, name string) (*Definition, error)

	RegisterDefinition(ctx context.Context, spec DefinitionSpec) (*Definition, error)

	// ListDefinitions returns every active definition.
	ListDefinitions(ctx context.Context) ([]Definition, error)

	DeregisterDefinition(ctx context.Context, def Definition) error

	// SubmitJob enqueues a job and returns its id.
	SubmitJob(ctx context.Context, req SubmitRequest) (string, error)
}
