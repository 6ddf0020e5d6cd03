package batch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

const (
	definitionPrefix = "upload-"

	// StagingPath is mounted from the host into every job container.
	StagingPath = "/data"
)

// DefinitionName derives the job definition name for an image in a deployment.
// The image is hashed because schedulers cannot search definitions by image and
// image references contain characters definition names may not.
func DefinitionName(image, deployment string) string {
	sum := sha1.Sum([]byte(image))
	return SanitizeJobName(definitionPrefix + deployment + "-" + hex.EncodeToString(sum[:]))
}

// DefaultSpec returns the fixed resource shape used for every definition.
// Jobs retry internally, so the scheduler runs each one once.
func DefaultSpec(name, image, role string) DefinitionSpec {
	return DefinitionSpec{
		Name:          name,
		Image:         image,
		JobRole:       role,
		VCPUs:         1,
		MemoryMiB:     1000,
		RetryAttempts: 1,
		Volumes: []Volume{{
			Name:          "data",
			HostPath:      StagingPath,
			ContainerPath: StagingPath,
		}},
	}
}

// Definitions finds, creates and clears job definitions on a backend.
type Definitions struct {
	backend Backend
	logger  *slog.Logger
}

func NewDefinitions(backend Backend, logger *slog.Logger) *Definitions {
	return &Definitions{backend: backend, logger: logger}
}

// FindOrCreate returns the active definition for (image, deployment),
// registering it with role when none exists yet.
func (d *Definitions) FindOrCreate(ctx context.Context, image, deployment, role string) (*Definition, error) {
	name := DefinitionName(image, deployment)

	def, err := d.backend.DescribeDefinition(ctx, name)
	if err == nil {
		d.logger.Debug("job definition found", "name", name, "handle", def.Handle)
		return def, nil
	}
	if !errors.Is(err, ErrDefinitionNotFound) {
		return nil, fmt.Errorf("failed to describe job definition %s: %w", name, err)
	}

	def, err = d.backend.RegisterDefinition(ctx, DefaultSpec(name, image, role))
	if err != nil {
		return nil, fmt.Errorf("failed to register job definition %s: %w", name, err)
	}
	d.logger.Info("job definition created", "name", name, "handle", def.Handle, "image", image)
	return def, nil
}

// ClearAll deregisters every active definition and returns how many it removed.
func (d *Definitions) ClearAll(ctx context.Context) (int, error) {
	defs, err := d.backend.ListDefinitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list job definitions: %w", err)
	}

	for i, def := range defs {
		d.logger.Info("deleting job definition", "name", def.Name, "image", def.Image)
		if err := d.backend.DeregisterDefinition(ctx, def); err != nil {
			return i, fmt.Errorf("failed to deregister job definition %s: %w", def.Name, err)
		}
	}
	return len(defs), nil
}
