package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerAPI is the subset of the Docker client used by DockerRuntime.
type DockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client DockerAPI
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      DockerAPI
	containerID string
	timeout     time.Duration
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)
	return env
}

func mountsToBinds(mounts []Mount) []string {
	binds := make([]string, 0, len(mounts))
	for _, m := range mounts {
		bind := m.HostPath + ":" + m.ContainerPath
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}
	return binds
}

// NewDockerRuntime creates a new Docker-based runtime.
func NewDockerRuntime() (*DockerRuntime, error) {
	// Initializes client from standard environment variables (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// NewDockerRuntimeWithClient wraps an existing client.
func NewDockerRuntimeWithClient(c DockerAPI) *DockerRuntime {
	return &DockerRuntime{client: c}
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	// Check if it exists locally first to save time.
	if _, err := d.client.ImageInspect(ctx, opts.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", opts.Image, err)
		}
		defer reader.Close()
		io.Copy(io.Discard, reader)
	}

	containerConfig := &container.Config{
		Image: opts.Image,
		Cmd:   opts.Command,
		Env:   mapToEnvList(opts.Env),
	}
	hostConfig := &container.HostConfig{
		Binds: mountsToBinds(opts.Mounts),
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{
		client:      d.client,
		containerID: resp.ID,
		timeout:     opts.Timeout,
	}, nil
}

// ID returns the container id.
func (h *DockerHandle) ID() string {
	return h.containerID
}

// Wait blocks until the container stops and collects its output.
func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	waitCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	statusCh, errCh := h.client.ContainerWait(waitCtx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if waitCtx.Err() != nil {
			h.Stop(context.Background())
			res := h.collect(-1, waitCtx.Err())
			return res, waitCtx.Err()
		}
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		if status.Error != nil {
			return h.collect(int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)), nil
		}
		return h.collect(int(status.StatusCode), nil), nil
	case <-waitCtx.Done():
		h.Stop(context.Background())
		return h.collect(-1, waitCtx.Err()), waitCtx.Err()
	}
}

func (h *DockerHandle) collect(code int, err error) ExitResult {
	res := ExitResult{ExitCode: code, Error: err}

	logs, logErr := h.client.ContainerLogs(context.Background(), h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if logErr != nil {
		return res
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	stdcopy.StdCopy(&stdout, &stderr, logs)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	return res
}

// Stop stops the container, giving it five seconds to exit.
func (h *DockerHandle) Stop(ctx context.Context) error {
	timeOut := 5
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeOut})
}

// StreamLogs follows the container's combined output.
func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}
