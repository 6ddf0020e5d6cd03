// Package config loads service settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Batch backends.
const (
	BackendAWS        = "aws"
	BackendKubernetes = "kubernetes"
	BackendDocker     = "docker"
)

// Config holds all configuration values for the services.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	HTTPPort    int    `mapstructure:"http_port"`
	LogLevel    string `mapstructure:"log_level"`

	// OTLP gRPC collector for traces.
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	DeploymentStage string `mapstructure:"deployment_stage"`
	BucketName      string `mapstructure:"bucket_name"`

	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`

	// BatchBackend selects where checksum and validation jobs run:
	// aws, kubernetes or docker.
	BatchBackend  string `mapstructure:"batch_backend"`
	KubeNamespace string `mapstructure:"kube_namespace"`
	StagingDir    string `mapstructure:"staging_dir"`

	ChecksumJobQueue   string `mapstructure:"checksum_job_queue"`
	ValidationJobQueue string `mapstructure:"validation_job_queue"`
	ChecksummerImage   string `mapstructure:"checksummer_image"`
	ChecksumJobRole    string `mapstructure:"checksum_job_role"`
	ValidationJobRole  string `mapstructure:"validation_job_role"`

	// ChecksumBatchThreshold is the largest file the daemon checksums inline.
	ChecksumBatchThreshold int64         `mapstructure:"checksum_batch_threshold"`
	ContentTypeAttempts    int           `mapstructure:"content_type_attempts"`
	ContentTypeInterval    time.Duration `mapstructure:"content_type_interval"`

	IngestAMQPServer string `mapstructure:"ingest_amqp_server"`
	IngestExchange   string `mapstructure:"ingest_exchange"`
	IngestAPIKey     string `mapstructure:"ingest_api_key"`

	// APIHost is where batch jobs report back.
	APIHost     string   `mapstructure:"api_host"`
	APIKeys     []string `mapstructure:"api_keys"`
	InternalKey string   `mapstructure:"internal_api_key"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// bindings maps config keys to the environment variables that set them.
var bindings = map[string]string{
	"database_url":             "DATABASE_URL",
	"http_port":                "PORT",
	"log_level":                "LOG_LEVEL",
	"otel_endpoint":            "OTEL_EXPORTER_OTLP_ENDPOINT",
	"deployment_stage":         "DEPLOYMENT_STAGE",
	"bucket_name":              "BUCKET_NAME",
	"s3_region":                "AWS_REGION",
	"s3_endpoint":              "S3_ENDPOINT",
	"s3_access_key":            "AWS_ACCESS_KEY_ID",
	"s3_secret_key":            "AWS_SECRET_ACCESS_KEY",
	"s3_path_style":            "S3_PATH_STYLE",
	"batch_backend":            "BATCH_BACKEND",
	"kube_namespace":           "KUBE_NAMESPACE",
	"staging_dir":              "STAGING_DIR",
	"checksum_job_queue":       "CSUM_JOB_Q_ARN",
	"validation_job_queue":     "VALIDATION_JOB_Q_ARN",
	"checksummer_image":        "CSUM_DOCKER_IMAGE",
	"checksum_job_role":        "CSUM_JOB_ROLE_ARN",
	"validation_job_role":      "VALIDATION_JOB_ROLE_ARN",
	"checksum_batch_threshold": "CSUM_BATCH_THRESHOLD",
	"content_type_attempts":    "CONTENT_TYPE_ATTEMPTS",
	"content_type_interval":    "CONTENT_TYPE_INTERVAL",
	"ingest_amqp_server":       "INGEST_AMQP_SERVER",
	"ingest_exchange":          "INGEST_EXCHANGE",
	"ingest_api_key":           "INGEST_API_KEY",
	"api_host":                 "API_HOST",
	"api_keys":                 "API_KEYS",
	"internal_api_key":         "INTERNAL_API_KEY",
	"rate_limit_rps":           "RATE_LIMIT_RPS",
	"rate_limit_burst":         "RATE_LIMIT_BURST",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("deployment_stage", "local")
	v.SetDefault("bucket_name", "upload-local")
	v.SetDefault("batch_backend", BackendDocker)
	v.SetDefault("kube_namespace", "default")
	v.SetDefault("staging_dir", "/data")
	v.SetDefault("checksum_job_queue", "checksum")
	v.SetDefault("validation_job_queue", "validation")
	v.SetDefault("checksummer_image", "uploadplane/checksummer:latest")
	v.SetDefault("checksum_batch_threshold", int64(10)<<30)
	v.SetDefault("content_type_attempts", 5)
	v.SetDefault("content_type_interval", 6*time.Second)
	v.SetDefault("ingest_exchange", "ingest.upload.exchange")
	v.SetDefault("api_host", "localhost:8080")
	v.SetDefault("rate_limit_rps", 10.0)
	v.SetDefault("rate_limit_burst", 20)
}

// Load reads configuration from path (skipped when empty) and the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	switch c.BatchBackend {
	case BackendAWS, BackendKubernetes, BackendDocker:
	default:
		return fmt.Errorf("invalid batch_backend %q (want %s)", c.BatchBackend,
			strings.Join([]string{BackendAWS, BackendKubernetes, BackendDocker}, ", "))
	}
	if c.ChecksumBatchThreshold <= 0 {
		return fmt.Errorf("invalid checksum_batch_threshold %d", c.ChecksumBatchThreshold)
	}
	return nil
}
