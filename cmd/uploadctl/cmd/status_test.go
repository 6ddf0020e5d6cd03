package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"uploadplane/pkg/api"
)

func TestStatusCommand_File(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/v1/area/area-1/a.fastq/checksum":
			json.NewEncoder(w).Encode(api.ChecksumStatusResponse{
				ChecksumStatus: "CHECKSUMMED",
				Checksums:      map[string]string{"sha1": "abc", "crc32c": "e3069283"},
			})
		case "/v1/area/area-1/a.fastq/validate":
			json.NewEncoder(w).Encode(api.ValidationStatusResponse{
				ValidationStatus:  "VALIDATED",
				ValidationResults: json.RawMessage(`{"status":"completed","exit_code":3,"duration_s":1.5}`),
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "area-1", "a.fastq"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"a.fastq", "CHECKSUMMED", "e3069283", "VALIDATED", "completed", "Exit Code", "1.5s"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	if strings.Index(output, "crc32c") > strings.Index(output, "sha1") {
		t.Errorf("expected checksums sorted by algorithm, got: %s", output)
	}
}

func TestStatusCommand_UnscheduledFile(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/checksum") {
			json.NewEncoder(w).Encode(api.ChecksumStatusResponse{ChecksumStatus: "UNSCHEDULED"})
			return
		}
		w.Write([]byte(`{"validation_status":"UNSCHEDULED","validation_results":null}`))
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"status", "area-1", "a.fastq"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "UNSCHEDULED") {
		t.Errorf("expected UNSCHEDULED status, got: %s", output)
	}
	if strings.Contains(output, "Validator:") {
		t.Errorf("expected no validator line without results, got: %s", output)
	}
}

func TestStatusCommand_AreaCounts(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/area/area-1/checksums":
			json.NewEncoder(w).Encode(map[string]int{"CHECKSUMMED": 2, "CHECKSUMMING_UNSCHEDULED": 1, "TOTAL": 3})
		case "/v1/area/area-1/validations":
			json.NewEncoder(w).Encode(map[string]int{"VALIDATING": 1, "VALIDATION_UNSCHEDULED": 2, "TOTAL": 3})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"status", "area-1"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"Files:" + colorReset + " 3", "CHECKSUMMING_UNSCHEDULED", "VALIDATING", "VALIDATION_UNSCHEDULED"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(api.Problem{Title: "Upload Area Not Found", Status: http.StatusNotFound})
	}))
	defer server.Close()

	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"status", "area-1", "a.fastq"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Upload Area Not Found") {
		t.Errorf("expected not found message, got: %s", stdout.String())
	}
}

func TestColorizeStatus(t *testing.T) {
	tests := []struct {
		status string
		color  string
	}{
		{"CHECKSUMMED", colorGreen},
		{"VALIDATED", colorGreen},
		{"CHECKSUMMING", colorYellow},
		{"VALIDATING", colorYellow},
		{"SCHEDULED", colorCyan},
		{"VALIDATION_UNSCHEDULED", colorDim},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got := colorizeStatus(tt.status)
			if !strings.Contains(got, tt.color+tt.status) {
				t.Errorf("colorizeStatus(%q) = %q, want color %q", tt.status, got, tt.color)
			}
		})
	}

	if got := colorizeStatus("OTHER"); got != "OTHER" {
		t.Errorf("expected unknown status unchanged, got %q", got)
	}
}
