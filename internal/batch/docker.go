package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"uploadplane/internal/runtime"
	"uploadplane/internal/store"
)

// DockerBackend runs jobs as containers on a local Docker daemon. Docker has
// no definition registry, so definitions are kept in the record store.
type DockerBackend struct {
	defs       store.JobDefinitionStore
	rt         runtime.Runtime
	stagingDir string
	logger     *slog.Logger
}

// NewDockerBackend creates a backend that mounts stagingDir at StagingPath
// in every container.
func NewDockerBackend(defs store.JobDefinitionStore, rt runtime.Runtime, stagingDir string, logger *slog.Logger) *DockerBackend {
	if stagingDir == "" {
		stagingDir = StagingPath
	}
	return &DockerBackend{defs: defs, rt: rt, stagingDir: stagingDir, logger: logger}
}

func (d *DockerBackend) DescribeDefinition(ctx context.Context, name string) (*Definition, error) {
	jd, err := d.defs.GetJobDefinition(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDefinitionNotFound
		}
		return nil, err
	}
	return &Definition{Name: jd.Name, Handle: jd.Handle, Image: jd.Image}, nil
}

func (d *DockerBackend) RegisterDefinition(ctx context.Context, spec DefinitionSpec) (*Definition, error) {
	jd := &store.JobDefinition{Name: spec.Name, Handle: spec.Name, Image: spec.Image}
	if err := d.defs.CreateJobDefinition(ctx, jd); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d.DescribeDefinition(ctx, spec.Name)
		}
		return nil, err
	}
	return &Definition{Name: jd.Name, Handle: jd.Handle, Image: jd.Image}, nil
}

func (d *DockerBackend) ListDefinitions(ctx context.Context) ([]Definition, error) {
	jds, err := d.defs.ListJobDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, 0, len(jds))
	for _, jd := range jds {
		defs = append(defs, Definition{Name: jd.Name, Handle: jd.Handle, Image: jd.Image})
	}
	return defs, nil
}

func (d *DockerBackend) DeregisterDefinition(ctx context.Context, def Definition) error {
	err := d.defs.DeleteJobDefinition(ctx, def.Name)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// SubmitJob starts the container and returns its id without waiting for it.
func (d *DockerBackend) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	def, err := d.DescribeDefinition(ctx, req.Definition.Name)
	if err != nil {
		return "", err
	}

	handle, err := d.rt.Start(ctx, runtime.StartOptions{
		Name:    req.Name + "-" + uuid.NewString()[:8],
		Image:   def.Image,
		Command: req.Command,
		Env:     req.Env,
		Mounts: []runtime.Mount{{
			HostPath:      d.stagingDir,
			ContainerPath: StagingPath,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to start container for %s: %w", req.Name, err)
	}

	go d.watch(handle, req.Name)
	return handle.ID(), nil
}

// watch logs how a submitted container ended.
func (d *DockerBackend) watch(h runtime.Handle, name string) {
	res, err := h.Wait(context.Background())
	if err != nil {
		d.logger.Error("docker job wait failed", "job_id", h.ID(), "job_name", name, "error", err)
		return
	}
	d.logger.Info("docker job finished", "job_id", h.ID(), "job_name", name, "exit_code", res.ExitCode)
}
