package observability

import (
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every uploadplane instrument.
const MeterName = "uploadplane"

// Instruments are the counters recorded by the daemon, the API and the jobs.
type Instruments struct {
	// Decisions counts storage notification records by outcome
	// (attribute "decision").
	Decisions metric.Int64Counter

	// ChecksummedBytes counts bytes read while checksumming inline.
	ChecksummedBytes metric.Int64Counter

	// IngestNotifications counts notifications by type and result.
	IngestNotifications metric.Int64Counter

	// ValidationsScheduled counts validation jobs submitted.
	ValidationsScheduled metric.Int64Counter

	// EventUpdates counts update_checksum and update_validation calls by status.
	EventUpdates metric.Int64Counter
}

// NewInstruments creates the instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)

	if in.Decisions, err = meter.Int64Counter("uploadplane_checksum_decisions",
		metric.WithDescription("Storage notification records by checksum decision")); err != nil {
		return nil, err
	}
	if in.ChecksummedBytes, err = meter.Int64Counter("uploadplane_checksummed",
		metric.WithDescription("Bytes checksummed inline"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if in.IngestNotifications, err = meter.Int64Counter("uploadplane_ingest_notifications",
		metric.WithDescription("Notifications sent to ingest")); err != nil {
		return nil, err
	}
	if in.ValidationsScheduled, err = meter.Int64Counter("uploadplane_validations_scheduled",
		metric.WithDescription("Validation jobs submitted")); err != nil {
		return nil, err
	}
	if in.EventUpdates, err = meter.Int64Counter("uploadplane_event_updates",
		metric.WithDescription("Event updates received from batch jobs")); err != nil {
		return nil, err
	}
	return &in, nil
}
