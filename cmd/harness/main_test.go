package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarnessConfig(t *testing.T) {
	t.Setenv("VALIDATION_ID", "val-1")
	t.Setenv("AWS_BATCH_JOB_ID", "job-1")
	t.Setenv("AWS_BATCH_JOB_ATTEMPT", "2")

	v := viper.New()
	newRootCmd(v)

	cfg, err := harnessConfig(v, options{timeout: 1.5, stagingDir: "/tmp/stage", keep: true},
		[]string{"/validator", "s3://b/area/a", "s3://b/area/b"})
	require.NoError(t, err)

	assert.Equal(t, "/validator", cfg.Validator)
	assert.Equal(t, []string{"s3://b/area/a", "s3://b/area/b"}, cfg.URLs)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, "/tmp/stage", cfg.StagingDir)
	assert.Equal(t, "val-1", cfg.ValidationID)
	assert.Equal(t, "job-1", cfg.JobID)
	assert.Equal(t, "2", cfg.Attempt)
	assert.True(t, cfg.Keep)
	assert.False(t, cfg.TestMode)
}

func TestHarnessConfig_ValidationIDRequiredOutsideTestMode(t *testing.T) {
	t.Setenv("VALIDATION_ID", "")
	v := viper.New()
	newRootCmd(v)

	_, err := harnessConfig(v, options{}, []string{"/validator", "s3://b/area/a"})
	assert.ErrorContains(t, err, "VALIDATION_ID")

	cfg, err := harnessConfig(v, options{test: true}, []string{"/validator", "s3://b/area/a"})
	require.NoError(t, err)
	assert.True(t, cfg.TestMode)
}

func TestHarnessConfig_NegativeTimeout(t *testing.T) {
	_, err := harnessConfig(viper.New(), options{timeout: -1, test: true}, []string{"/validator", "s3://b/k"})
	assert.Error(t, err)
}

func TestRootCmd_RequiresValidatorAndFile(t *testing.T) {
	cmd := newRootCmd(viper.New())
	cmd.SetArgs([]string{"--test", "/validator"})
	cmd.SetOut(new(strings.Builder))
	cmd.SetErr(new(strings.Builder))
	assert.Error(t, cmd.Execute())
}
