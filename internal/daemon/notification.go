package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// EventKind is a recognized storage change.
type EventKind int

const (
	EventPut EventKind = iota + 1
	EventCompleteMultipartUpload
	EventCopy
)

// ParseEventKind maps a record's eventName to its kind. Names may carry the
// "s3:" prefix used in bucket notification configuration.
func ParseEventKind(name string) (EventKind, error) {
	switch strings.TrimPrefix(name, "s3:") {
	case "ObjectCreated:Put":
		return EventPut, nil
	case "ObjectCreated:CompleteMultipartUpload":
		return EventCompleteMultipartUpload, nil
	case "ObjectCreated:Copy":
		return EventCopy, nil
	default:
		return 0, fmt.Errorf("unrecognized storage event %q", name)
	}
}

func (k EventKind) String() string {
	switch k {
	case EventPut:
		return "ObjectCreated:Put"
	case EventCompleteMultipartUpload:
		return "ObjectCreated:CompleteMultipartUpload"
	case EventCopy:
		return "ObjectCreated:Copy"
	default:
		return "unknown"
	}
}

// Notification is a batch of storage change records.
type Notification struct {
	Records []Record `json:"Records"`
}

// Record is one storage change.
type Record struct {
	EventName string `json:"eventName"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			// Key is URL-encoded in notifications.
			Key  string `json:"key"`
			Size int64  `json:"size"`
			ETag string `json:"eTag"`
		} `json:"object"`
	} `json:"s3"`
}

// DecodeNotification reads a JSON notification.
func DecodeNotification(r io.Reader) (Notification, error) {
	var n Notification
	if err := json.NewDecoder(r).Decode(&n); err != nil {
		return Notification{}, fmt.Errorf("invalid storage notification: %w", err)
	}
	return n, nil
}

// NewRecord builds a Put record for key. It is used to re-trigger
// checksumming of a single file.
func NewRecord(bucket, key string) Record {
	var r Record
	r.EventName = EventPut.String()
	r.S3.Bucket.Name = bucket
	r.S3.Object.Key = key
	return r
}

// ParseKey splits "{area_id}/{percent-encoded name}" into the area and the
// decoded file name.
func ParseKey(key string) (uuid.UUID, string, error) {
	areaPart, encoded, ok := strings.Cut(key, "/")
	if !ok || encoded == "" {
		return uuid.Nil, "", fmt.Errorf("key %q has no file name", key)
	}
	areaID, err := uuid.Parse(areaPart)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("key %q does not start with an upload area id: %w", key, err)
	}
	name, err := url.PathUnescape(encoded)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("key %q: %w", key, err)
	}
	return areaID, name, nil
}
