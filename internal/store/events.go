package store

import "time"

// checksumPrecedence orders statuses for staleness resolution.
// Higher wins when several fresh events exist for one file.
var checksumPrecedence = map[ChecksumStatus]int{
	ChecksumStatusScheduled:    1,
	ChecksumStatusChecksumming: 2,
	ChecksumStatusChecksummed:  3,
}

// IsFresh reports whether the event was last touched at or after the object's
// modification time. Events older than the object describe a previous upload.
func (e ChecksumEvent) IsFresh(lastModified time.Time) bool {
	return !e.UpdatedAt.Before(lastModified)
}

// ResolveChecksumStatus returns the authoritative status of a file given all
// of its checksum events and the object's last-modified time.
//
// Stale events are ignored. Among fresh ones CHECKSUMMED beats CHECKSUMMING,
// which beats SCHEDULED. With no fresh event the file is UNSCHEDULED and the
// returned event is nil.
func ResolveChecksumStatus(events []ChecksumEvent, lastModified time.Time) (ChecksumStatus, *ChecksumEvent) {
	status := ChecksumStatusUnscheduled
	var winner *ChecksumEvent

	for i := range events {
		ev := &events[i]
		if !ev.IsFresh(lastModified) {
			continue
		}
		rank, known := checksumPrecedence[ev.Status]
		if !known {
			continue
		}
		if winner == nil || rank > checksumPrecedence[status] {
			status = ev.Status
			winner = ev
		}
	}

	return status, winner
}

// LatestChecksumEvent returns the most recently created event, or nil.
func LatestChecksumEvent(events []ChecksumEvent) *ChecksumEvent {
	var latest *ChecksumEvent
	for i := range events {
		if latest == nil || events[i].CreatedAt.After(latest.CreatedAt) {
			latest = &events[i]
		}
	}
	return latest
}

// Status count keys for files that have no event at all.
const (
	ChecksumUnscheduledKey   = "CHECKSUMMING_UNSCHEDULED"
	ValidationUnscheduledKey = "VALIDATION_UNSCHEDULED"
	TotalKey                 = "TOTAL"
)

// CountStatuses tallies the latest status of every file in fileIDs.
// Files missing from latest are counted under unscheduledKey.
// TOTAL is always the number of files.
func CountStatuses[S ~string](fileIDs []int64, latest map[int64]S, unscheduledKey string) map[string]int {
	counts := map[string]int{TotalKey: len(fileIDs), unscheduledKey: 0}
	for _, id := range fileIDs {
		status, ok := latest[id]
		if !ok {
			counts[unscheduledKey]++
			continue
		}
		counts[string(status)]++
	}
	return counts
}
