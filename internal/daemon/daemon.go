// Package daemon decides what to do with storage change notifications:
// skip files already checksummed or in flight, checksum small files inline
// and schedule batch jobs for large ones.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"uploadplane/internal/batch"
	"uploadplane/internal/checksum"
	"uploadplane/internal/ingest"
	"uploadplane/internal/logger"
	"uploadplane/internal/observability"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

const (
	GiB = 1024 * 1024 * 1024

	// DefaultBatchThreshold is the largest file checksummed inline.
	DefaultBatchThreshold int64 = 10 * GiB

	// ChecksummerCommand is the entrypoint of the checksummer image.
	ChecksummerCommand = "/checksummer"

	dcpTypeMarker = "; dcp-type="
)

// Decision is what the daemon did with a record.
type Decision string

const (
	DecisionIgnored        Decision = "ignored"
	DecisionNotified       Decision = "notified"
	DecisionInFlight       Decision = "in_flight"
	DecisionChecksumInline Decision = "checksum_inline"
	DecisionChecksumBatch  Decision = "checksum_batch"
	DecisionFailed         Decision = "failed"
)

// Objects is the object storage the daemon reads.
type Objects interface {
	Head(ctx context.Context, bucket, key string) (*storage.Object, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	checksum.TagStore
}

// Store is the record store the daemon reads and writes.
type Store interface {
	store.AreaStore
	store.FileStore
	store.ChecksumEventStore
	BeginTx(ctx context.Context) (store.Tx, error)
}

// Config holds the deployment values of the daemon.
type Config struct {
	DeploymentStage  string
	IngestAMQPServer string
	APIHost          string

	// ChecksummerImage and JobRole define the batch checksum job.
	ChecksummerImage string
	JobRole          string

	// BatchThreshold is the largest file checksummed inline.
	BatchThreshold int64

	// ContentTypeAttempts and ContentTypeInterval bound the wait for the
	// "; dcp-type=" content type suffix before notifying ingest.
	ContentTypeAttempts int
	ContentTypeInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchThreshold <= 0 {
		c.BatchThreshold = DefaultBatchThreshold
	}
	if c.ContentTypeAttempts < 0 {
		c.ContentTypeAttempts = 0
	}
}

// DefaultConfig returns the production polling and threshold values.
func DefaultConfig() Config {
	return Config{
		BatchThreshold:      DefaultBatchThreshold,
		ContentTypeAttempts: 5,
		ContentTypeInterval: 6 * time.Second,
	}
}

// Daemon consumes storage notifications.
type Daemon struct {
	store    Store
	objects  Objects
	tagger   *checksum.Tagger
	defs     *batch.Definitions
	jobs     *batch.Scheduler
	notifier ingest.Notifier
	cfg      Config
	logger   *slog.Logger

	tracer trace.Tracer
	inst   *observability.Instruments
}

// New wires a daemon. jobs schedules onto the checksum job queue.
func New(st Store, objects Objects, tagger *checksum.Tagger, defs *batch.Definitions, jobs *batch.Scheduler, notifier ingest.Notifier, cfg Config, logger *slog.Logger) (*Daemon, error) {
	cfg.setDefaults()
	inst, err := observability.NewInstruments(otel.Meter(observability.MeterName))
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return &Daemon{
		store:    st,
		objects:  objects,
		tagger:   tagger,
		defs:     defs,
		jobs:     jobs,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("checksum-daemon"),
		inst:     inst,
	}, nil
}

// ConsumeEvent handles every record of n. Unrecognized records are skipped
// and a failing record does not stop the others; the failures are returned
// joined.
func (d *Daemon) ConsumeEvent(ctx context.Context, n Notification) error {
	var errs []error
	for i, rec := range n.Records {
		if _, err := d.ProcessRecord(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i, rec.S3.Object.Key, err))
		}
	}
	return errors.Join(errs...)
}

// fileContext is everything known about the file a record refers to.
type fileContext struct {
	area   *store.UploadArea
	object *storage.Object
	file   *store.File
}

// ProcessRecord handles one record and reports what it decided.
func (d *Daemon) ProcessRecord(ctx context.Context, rec Record) (decision Decision, err error) {
	ctx, span := d.tracer.Start(ctx, "consume_record",
		trace.WithAttributes(
			attribute.String("storage.event", rec.EventName),
			attribute.String("storage.key", rec.S3.Object.Key),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer func() {
		if err != nil {
			decision = DecisionFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("decision", string(decision)))
		span.End()
		d.inst.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(decision))))
	}()

	log := logger.FromContext(ctx, d.logger)

	kind, err := ParseEventKind(rec.EventName)
	if err != nil {
		log.Warn("unexpected storage event", "event", rec.EventName, "key", rec.S3.Object.Key)
		return DecisionIgnored, nil
	}

	fc, err := d.findFile(ctx, rec)
	if err != nil {
		return DecisionFailed, err
	}
	log = log.With("upload_area_id", fc.area.ID, "file_name", fc.file.Name, "file_id", fc.file.ID)
	log.Info("storage event", "type", "correlation", "event", kind.String(), "file_key", fc.file.S3Key)

	events, err := d.store.ListChecksumEvents(ctx, fc.file.ID)
	if err != nil {
		return DecisionFailed, fmt.Errorf("failed to list checksum events: %w", err)
	}

	status, current := store.ResolveChecksumStatus(events, fc.object.LastModified)
	switch status {
	case store.ChecksumStatusChecksummed:
		log.Debug("file already checksummed and unchanged", "checksum_id", current.ID)
		if len(fc.file.Checksums) == 0 {
			fc.file.Checksums = current.Checksums
		}
		d.notifyIngest(ctx, log, fc)
		return DecisionNotified, nil

	case store.ChecksumStatusChecksumming, store.ChecksumStatusScheduled:
		// The owner of the in-flight event notifies ingest.
		log.Debug("file is being checksummed", "checksum_id", current.ID, "status", status)
		return DecisionInFlight, nil

	case store.ChecksumStatusUnscheduled:
		if fc.object.Size > d.cfg.BatchThreshold {
			return DecisionChecksumBatch, d.scheduleChecksum(ctx, log, fc)
		}
		return DecisionChecksumInline, d.checksumNow(ctx, log, fc)

	default:
		return DecisionFailed, fmt.Errorf("unexpected checksum status %q", status)
	}
}

func (d *Daemon) findFile(ctx context.Context, rec Record) (*fileContext, error) {
	areaID, name, err := ParseKey(rec.S3.Object.Key)
	if err != nil {
		return nil, err
	}

	area, err := d.store.GetArea(ctx, areaID)
	if err != nil {
		return nil, fmt.Errorf("upload area %s: %w", areaID, err)
	}

	bucket := area.BucketName
	if bucket == "" {
		bucket = rec.S3.Bucket.Name
	}
	key := areaID.String() + "/" + name

	obj, err := d.objects.Head(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := d.store.FindOrCreateFile(ctx, &store.File{
		UploadAreaID: areaID,
		Name:         name,
		S3Key:        key,
		S3ETag:       obj.ETag,
		Size:         obj.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record file %s: %w", key, err)
	}

	return &fileContext{area: area, object: obj, file: file}, nil
}

// checksumNow marks the file CHECKSUMMING, checksums and tags it, then marks
// it CHECKSUMMED. The event is left CHECKSUMMING if tagging fails.
func (d *Daemon) checksumNow(ctx context.Context, log *slog.Logger, fc *fileContext) error {
	event := &store.ChecksumEvent{
		ID:     uuid.New(),
		FileID: fc.file.ID,
		Status: store.ChecksumStatusChecksumming,
	}
	if err := d.store.CreateChecksumEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to create checksum event: %w", err)
	}
	log = log.With("checksum_id", event.ID)

	body, err := d.objects.Open(ctx, fc.object.Bucket, fc.object.Key)
	if err != nil {
		return err
	}
	defer body.Close()

	lastLogged := time.Now()
	sums, err := checksum.New(func(done, total int64) {
		if time.Since(lastLogged) >= 10*time.Second || done == total {
			lastLogged = time.Now()
			log.Debug("checksumming", "done", done, "total", total)
		}
	}).Checksum(ctx, body, fc.object.Size)
	if err != nil {
		return fmt.Errorf("failed to checksum %s: %w", fc.object.Key, err)
	}
	d.inst.ChecksummedBytes.Add(ctx, fc.object.Size)

	if _, err := d.tagger.Apply(ctx, fc.object.Bucket, fc.object.Key, sums); err != nil {
		return err
	}

	event.Status = store.ChecksumStatusChecksummed
	event.Checksums = sums
	if err := d.completeEvent(ctx, event, fc.file.ID, sums); err != nil {
		return err
	}

	log.Info("checksummed and tagged", "checksums", sums)
	fc.file.Checksums = sums
	d.notifyIngest(ctx, log, fc)
	return nil
}

func (d *Daemon) completeEvent(ctx context.Context, event *store.ChecksumEvent, fileID int64, sums store.Checksums) error {
	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := d.store.UpdateChecksumEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to update checksum event: %w", err)
	}
	if err := d.store.UpdateFileChecksums(ctx, tx, fileID, sums); err != nil {
		return fmt.Errorf("failed to store file checksums: %w", err)
	}
	return tx.Commit()
}

// scheduleChecksum marks the file CHECKSUMMING and hands it to a batch job.
// The job reports back through update_checksum.
func (d *Daemon) scheduleChecksum(ctx context.Context, log *slog.Logger, fc *fileContext) error {
	event := &store.ChecksumEvent{
		ID:     uuid.New(),
		FileID: fc.file.ID,
		Status: store.ChecksumStatusChecksumming,
	}
	if err := d.store.CreateChecksumEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to create checksum event: %w", err)
	}

	def, err := d.defs.FindOrCreate(ctx, d.cfg.ChecksummerImage, d.cfg.DeploymentStage, d.cfg.JobRole)
	if err != nil {
		d.dropChecksumEvent(ctx, log, event.ID)
		return err
	}

	env := map[string]string{
		"BUCKET_NAME":        fc.object.Bucket,
		"DEPLOYMENT_STAGE":   d.cfg.DeploymentStage,
		"INGEST_AMQP_SERVER": d.cfg.IngestAMQPServer,
		"API_HOST":           d.cfg.APIHost,
		"CHECKSUM_ID":        event.ID.String(),
		"CONTAINER":          "DOCKER",
	}
	command := []string{ChecksummerCommand, storage.FormatURL(fc.object.Bucket, fc.object.Key)}
	name := strings.Join([]string{"csum", d.cfg.DeploymentStage, fc.area.ID.String(), fc.file.Name}, "-")

	jobID, err := d.jobs.Submit(ctx, def, name, command, env)
	if err != nil {
		d.dropChecksumEvent(ctx, log, event.ID)
		return err
	}

	marked, err := d.store.MarkChecksumScheduled(ctx, event.ID, jobID)
	if err != nil {
		return fmt.Errorf("failed to record checksum job %s: %w", jobID, err)
	}
	if !marked {
		// The job reported before we did; its status stands.
		log.Info("checksum job already reported", "checksum_id", event.ID, "job_id", jobID)
		return nil
	}

	log.Info("checksum job scheduled", "checksum_id", event.ID, "job_id", jobID, "size", fc.object.Size)
	return nil
}

// dropChecksumEvent removes the in-flight marker of a job that was never
// submitted so the next event for the object can schedule it again.
func (d *Daemon) dropChecksumEvent(ctx context.Context, log *slog.Logger, id uuid.UUID) {
	if err := d.store.DeleteChecksumEvent(context.WithoutCancel(ctx), id); err != nil {
		log.Error("failed to remove checksum event of unsubmitted job", "checksum_id", id, "error", err)
	}
}

// notifyIngest waits briefly for the content type to gain its dcp-type
// suffix, then sends file_uploaded. Failures are logged only.
func (d *Daemon) notifyIngest(ctx context.Context, log *slog.Logger, fc *fileContext) {
	d.waitForContentType(ctx, log, fc)

	info := FileInfo(fc.area, fc.file, fc.object)
	err := d.notifier.Notify(ctx, ingest.FileUploaded, fc.file.ID, info)

	result := "ok"
	if err != nil {
		result = "error"
		log.Error("failed to notify ingest", "error", err)
	}
	d.inst.IngestNotifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", ingest.FileUploaded.String()),
		attribute.String("result", result),
	))
}

func (d *Daemon) waitForContentType(ctx context.Context, log *slog.Logger, fc *fileContext) {
	for left := d.cfg.ContentTypeAttempts; left > 0 && !strings.Contains(fc.object.ContentType, dcpTypeMarker); left-- {
		log.Debug("no dcp-type in content type yet", "content_type", fc.object.ContentType, "checks_left", left)

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.ContentTypeInterval):
		}

		obj, err := d.objects.Head(ctx, fc.object.Bucket, fc.object.Key)
		if err != nil {
			log.Warn("failed to refresh object", "error", err)
			continue
		}
		fc.object = obj
	}

	if !strings.Contains(fc.object.ContentType, dcpTypeMarker) {
		log.Warn("still no dcp-type in content type", "content_type", fc.object.ContentType)
	}
}

// FileInfo describes a file the way the API and ingest notifications do.
func FileInfo(area *store.UploadArea, file *store.File, obj *storage.Object) api.FileInfo {
	sums := map[string]string(file.Checksums)
	if sums == nil {
		sums = map[string]string{}
	}
	return api.FileInfo{
		UploadAreaID: area.ID.String(),
		Name:         file.Name,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		URL:          obj.URL(),
		Checksums:    sums,
		LastModified: obj.LastModified,
	}
}
