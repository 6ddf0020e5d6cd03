// Package main is the checksummer batch job. It checksums one uploaded object
// too large for the daemon to handle inline, tags it and reports the result
// through update_checksum.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uploadplane/internal/checksum"
	"uploadplane/internal/client"
	"uploadplane/internal/daemon"
	"uploadplane/internal/harness"
	"uploadplane/internal/logger"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

var env = map[string]string{
	"checksum_id":      "CHECKSUM_ID",
	"job_id":           "AWS_BATCH_JOB_ID",
	"api_host":         "API_HOST",
	"internal_api_key": "INTERNAL_API_KEY",
	"log_level":        "LOG_LEVEL",
	"s3_region":        "AWS_REGION",
	"s3_endpoint":      "S3_ENDPOINT",
	"s3_path_style":    "S3_PATH_STYLE",
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "checksummer s3://bucket/key",
		Short:        "Checksum an uploaded object and report the result",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logr := logger.New(v.GetString("log_level"))
			if v.GetString("checksum_id") == "" {
				return fmt.Errorf("CHECKSUM_ID is not set")
			}

			ctx := cmd.Context()
			objects, err := storage.New(ctx, storage.Options{
				Region:       v.GetString("s3_region"),
				Endpoint:     v.GetString("s3_endpoint"),
				UsePathStyle: v.GetBool("s3_path_style"),
			})
			if err != nil {
				return err
			}
			job := &checksumJob{
				objects:  objects,
				tagger:   checksum.NewTagger(objects),
				reporter: client.New(v.GetString("api_host"), v.GetString("internal_api_key")),
				eventID:  v.GetString("checksum_id"),
				jobID:    v.GetString("job_id"),
				logger:   logr,
			}
			_, err = job.Run(ctx, args[0])
			return err
		},
	}
	for key, name := range env {
		v.BindEnv(key, name)
	}
	return cmd
}

type checksumJob struct {
	objects  daemon.Objects
	tagger   *checksum.Tagger
	reporter harness.Reporter
	eventID  string
	jobID    string
	logger   *slog.Logger
}

// Run checksums the object at rawURL. The event is reported CHECKSUMMED only
// once the tags are verified on the object.
func (j *checksumJob) Run(ctx context.Context, rawURL string) (store.Checksums, error) {
	bucket, key, err := storage.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	area, name, ok := strings.Cut(key, "/")
	if !ok {
		return nil, fmt.Errorf("key %q has no upload area", key)
	}
	ref := api.FileRef{UploadAreaID: area, Name: name}
	log := j.logger.With("checksum_id", j.eventID, "job_id", j.jobID, "bucket", bucket, "key", key)

	if err := j.report(ctx, ref, store.ChecksumStatusChecksumming, ref); err != nil {
		return nil, err
	}

	obj, err := j.objects.Head(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	body, err := j.objects.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	log.Info("checksumming", "size", obj.Size)
	var lastPct int64 = -1
	sums, err := checksum.New(func(done, total int64) {
		if total <= 0 {
			return
		}
		if pct := done * 100 / total; pct/10 != lastPct/10 {
			lastPct = pct
			log.Info("checksum progress", "percent", pct)
		}
	}).Checksum(ctx, body, obj.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum s3://%s/%s: %w", bucket, key, err)
	}

	sums, err = j.tagger.Apply(ctx, bucket, key, sums)
	if err != nil {
		return nil, err
	}

	payload := api.ChecksumPayload{FileRef: ref, Checksums: sums}
	if err := j.report(ctx, ref, store.ChecksumStatusChecksummed, payload); err != nil {
		return sums, err
	}
	log.Info("checksummed", "checksums", sums)
	return sums, nil
}

func (j *checksumJob) report(ctx context.Context, ref api.FileRef, status store.ChecksumStatus, payload any) error {
	err := j.reporter.UpdateEvent(ctx, client.ChecksumEvent, ref.UploadAreaID, j.eventID, string(status), j.jobID, payload)
	if err != nil {
		return fmt.Errorf("failed to report %s: %w", status, err)
	}
	return nil
}

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}
