package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"uploadplane/internal/controller/middleware"
	"uploadplane/pkg/api"
)

// UploadClient handles API calls to the uploadplane API.
type UploadClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewUploadClient creates a new client with the given base URL and API key.
func NewUploadClient(baseURL, apiKey string) *UploadClient {
	return &UploadClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func areaPath(areaID string, parts ...string) string {
	p := "/v1/area/" + url.PathEscape(areaID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// do sends the request and decodes a 200 response into out.
func (c *UploadClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		httpReq.Header.Add(middleware.APIKeyHeader, c.APIKey)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var p api.Problem
		if json.Unmarshal(respBody, &p) == nil && p.Title != "" {
			msg = p.Title
			if p.Detail != "" {
				msg += ": " + p.Detail
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ScheduleValidation sends PUT /v1/area/{id}/{filename}/validate for one
// file, or PUT /v1/area/{id}/validate listing every file.
func (c *UploadClient) ScheduleValidation(areaID string, files []string, req api.ValidateRequest) (*api.ValidateResponse, error) {
	path := areaPath(areaID, "validate")
	if len(files) == 1 {
		path = areaPath(areaID, url.PathEscape(files[0]), "validate")
	} else {
		for _, f := range files {
			req.Files = append(req.Files, url.PathEscape(f))
		}
	}

	var result api.ValidateResponse
	if err := c.do(http.MethodPut, path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChecksumStatus sends GET /v1/area/{id}/{filename}/checksum.
func (c *UploadClient) ChecksumStatus(areaID, filename string) (*api.ChecksumStatusResponse, error) {
	var result api.ChecksumStatusResponse
	if err := c.do(http.MethodGet, areaPath(areaID, url.PathEscape(filename), "checksum"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidationStatus sends GET /v1/area/{id}/{filename}/validate.
func (c *UploadClient) ValidationStatus(areaID, filename string) (*api.ValidationStatusResponse, error) {
	var result api.ValidationStatusResponse
	if err := c.do(http.MethodGet, areaPath(areaID, url.PathEscape(filename), "validate"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChecksumCounts sends GET /v1/area/{id}/checksums.
func (c *UploadClient) ChecksumCounts(areaID string) (map[string]int, error) {
	var result map[string]int
	if err := c.do(http.MethodGet, areaPath(areaID, "checksums"), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ValidationCounts sends GET /v1/area/{id}/validations.
func (c *UploadClient) ValidationCounts(areaID string) (map[string]int, error) {
	var result map[string]int
	if err := c.do(http.MethodGet, areaPath(areaID, "validations"), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}
