// Package runtime starts validator and checksummer processes, either as
// local subprocesses or as containers.
package runtime

import (
	"context"
	"io"
	"time"
)

// Runtime defines the interface for executing jobs.
// Implementations include Docker and raw process execution.
type Runtime interface {
	// Start begins execution and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// Mount binds a host path into a container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// StartOptions contains the parameters for starting a job.
type StartOptions struct {
	// Name labels the execution. Containers use it as their name.
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	Mounts  []Mount

	// Timeout bounds the wall-clock run time. Zero means unbounded.
	Timeout time.Duration
}

// ExitResult describes how an execution ended.
type ExitResult struct {
	// ExitCode is -1 when the process never produced one
	// (killed by a signal, timed out, failed to wait).
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	// Error is set when the execution ended abnormally.
	Error error
}

// Handle represents a running execution.
type Handle interface {
	// ID identifies the execution (process id or container id).
	ID() string

	// Wait blocks until the execution ends.
	// It returns context.DeadlineExceeded when the timeout fired.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the execution.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader for the execution's stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
