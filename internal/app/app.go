// Package app builds the components shared by the uploadplane binaries from
// the loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"uploadplane/internal/batch"
	"uploadplane/internal/checksum"
	"uploadplane/internal/config"
	"uploadplane/internal/daemon"
	"uploadplane/internal/ingest"
	"uploadplane/internal/runtime"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/internal/validation"
)

// OpenStorage connects to the object store holding the upload areas.
func OpenStorage(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	return storage.New(ctx, storage.Options{
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3PathStyle,
	})
}

// OpenBackend selects the batch backend. jobDefs is only used by the docker
// backend, which keeps its definitions in Postgres.
func OpenBackend(ctx context.Context, cfg *config.Config, jobDefs store.JobDefinitionStore, logger *slog.Logger) (batch.Backend, error) {
	switch cfg.BatchBackend {
	case config.BackendAWS:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		logger.Info("using aws batch backend")
		return batch.NewAWSBackendFromConfig(awsCfg), nil
	case config.BackendKubernetes:
		b, err := batch.NewKubernetesBackend(batch.KubernetesConfig{Namespace: cfg.KubeNamespace}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes backend: %w", err)
		}
		logger.Info("using kubernetes batch backend", "namespace", cfg.KubeNamespace)
		return b, nil
	case config.BackendDocker:
		if jobDefs == nil {
			return nil, fmt.Errorf("docker backend needs the job definition store")
		}
		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return nil, fmt.Errorf("failed to create docker runtime: %w", err)
		}
		logger.Info("using docker batch backend", "staging_dir", cfg.StagingDir)
		return batch.NewDockerBackend(jobDefs, rt, cfg.StagingDir, logger), nil
	default:
		return nil, fmt.Errorf("unknown batch backend %q", cfg.BatchBackend)
	}
}

// OpenNotifier connects to the ingest AMQP server. Without one configured,
// notifications are only logged. The returned close func is never nil.
func OpenNotifier(cfg *config.Config, logger *slog.Logger) (ingest.Notifier, func() error, error) {
	if cfg.IngestAMQPServer == "" {
		logger.Warn("no ingest amqp server configured, notifications are only logged")
		return ingest.LogNotifier{Logger: logger}, func() error { return nil }, nil
	}
	n, err := ingest.DialAMQP(cfg.IngestAMQPServer, cfg.IngestExchange, logger)
	if err != nil {
		return nil, nil, err
	}
	return n, n.Close, nil
}

// NewDaemon wires the checksum daemon onto the checksum job queue.
func NewDaemon(cfg *config.Config, st daemon.Store, objects daemon.Objects, backend batch.Backend, notifier ingest.Notifier, logger *slog.Logger) (*daemon.Daemon, error) {
	return daemon.New(
		st,
		objects,
		checksum.NewTagger(objects),
		batch.NewDefinitions(backend, logger),
		batch.NewScheduler(backend, cfg.ChecksumJobQueue, logger),
		notifier,
		daemon.Config{
			DeploymentStage:     cfg.DeploymentStage,
			IngestAMQPServer:    cfg.IngestAMQPServer,
			APIHost:             cfg.APIHost,
			ChecksummerImage:    cfg.ChecksummerImage,
			JobRole:             cfg.ChecksumJobRole,
			BatchThreshold:      cfg.ChecksumBatchThreshold,
			ContentTypeAttempts: cfg.ContentTypeAttempts,
			ContentTypeInterval: cfg.ContentTypeInterval,
		},
		logger,
	)
}

// NewValidationScheduler wires validation jobs onto the validation job queue.
func NewValidationScheduler(cfg *config.Config, events store.ValidationEventStore, backend batch.Backend, logger *slog.Logger) *validation.Scheduler {
	return validation.NewScheduler(
		batch.NewDefinitions(backend, logger),
		batch.NewScheduler(backend, cfg.ValidationJobQueue, logger),
		events,
		validation.Config{
			DeploymentStage:  cfg.DeploymentStage,
			IngestAMQPServer: cfg.IngestAMQPServer,
			IngestAPIKey:     cfg.IngestAPIKey,
			APIHost:          cfg.APIHost,
			JobRole:          cfg.ValidationJobRole,
		},
		logger,
	)
}
