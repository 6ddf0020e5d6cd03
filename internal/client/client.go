// Package client reports checksum and validation progress from batch jobs
// back to the API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"uploadplane/pkg/api"
)

// EventKind selects which event an update applies to.
type EventKind int

const (
	ChecksumEvent EventKind = iota + 1
	ValidationEvent
)

// action returns the path segment of the update endpoint.
func (k EventKind) action() (string, error) {
	switch k {
	case ChecksumEvent:
		return "update_checksum", nil
	case ValidationEvent:
		return "update_validation", nil
	default:
		return "", fmt.Errorf("unknown event kind %d", int(k))
	}
}

func (k EventKind) String() string {
	switch k {
	case ChecksumEvent:
		return "checksum"
	case ValidationEvent:
		return "validation"
	default:
		return "unknown"
	}
}

// InternalKeyHeader carries the shared secret of the update endpoints.
const InternalKeyHeader = "X-Internal-Key"

// Client posts event updates to the API server.
type Client struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// New creates a client for the API at baseURL. A bare host such as the
// API_HOST variable is treated as http://host.
func New(baseURL, internalKey string) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		internalKey: internalKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// UpdateEvent sets the status and job id of an event in areaID.
func (c *Client) UpdateEvent(ctx context.Context, kind EventKind, areaID, eventID, status, jobID string, payload any) error {
	action, err := kind.action()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	body, err := json.Marshal(api.UpdateEventRequest{
		Status:  status,
		JobID:   jobID,
		Payload: raw,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/area/%s/%s/%s", c.baseURL, areaID, action, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalKey != "" {
		req.Header.Set(InternalKeyHeader, c.internalKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update %s event %s: %w", kind, eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		var problem api.Problem
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &problem) == nil && problem.Title != "" {
			return fmt.Errorf("update %s event %s: %s (%d)", kind, eventID, problem.Title, resp.StatusCode)
		}
		return fmt.Errorf("update %s event %s: api returned status %d", kind, eventID, resp.StatusCode)
	}
	return nil
}
