// Package main is the validator harness batch job. It stages the files to
// validate, runs the validator over them and reports the results.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uploadplane/internal/client"
	"uploadplane/internal/harness"
	"uploadplane/internal/logger"
	"uploadplane/internal/runtime"
	"uploadplane/internal/storage"
)

var env = map[string]string{
	"job_id":           "AWS_BATCH_JOB_ID",
	"job_attempt":      "AWS_BATCH_JOB_ATTEMPT",
	"validation_id":    "VALIDATION_ID",
	"api_host":         "API_HOST",
	"internal_api_key": "INTERNAL_API_KEY",
	"log_level":        "LOG_LEVEL",
	"s3_region":        "AWS_REGION",
	"s3_endpoint":      "S3_ENDPOINT",
	"s3_path_style":    "S3_PATH_STYLE",
}

type options struct {
	test       bool
	keep       bool
	timeout    float64
	stagingDir string
}

// harnessConfig builds the run configuration from the arguments and env.
func harnessConfig(v *viper.Viper, opts options, args []string) (harness.Config, error) {
	if opts.timeout < 0 {
		return harness.Config{}, fmt.Errorf("timeout must not be negative")
	}
	cfg := harness.Config{
		Validator:    args[0],
		URLs:         args[1:],
		StagingDir:   opts.stagingDir,
		Timeout:      time.Duration(opts.timeout * float64(time.Second)),
		ValidationID: v.GetString("validation_id"),
		JobID:        v.GetString("job_id"),
		Attempt:      v.GetString("job_attempt"),
		TestMode:     opts.test,
		Keep:         opts.keep,
	}
	if !cfg.TestMode && cfg.ValidationID == "" {
		return harness.Config{}, fmt.Errorf("VALIDATION_ID is not set")
	}
	return cfg, nil
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "harness [flags] VALIDATOR S3_URL...",
		Short: "Stage uploaded files and run a validator over them",
		Long: `harness downloads every s3:// url into the staging directory, runs the
validator with the staged paths as arguments and reports the outcome as a
validation event update. With --test nothing is reported and the results are
printed instead.`,
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := harnessConfig(v, opts, args)
			if err != nil {
				return err
			}
			logr := logger.New(v.GetString("log_level"))

			ctx := cmd.Context()
			objects, err := storage.New(ctx, storage.Options{
				Region:       v.GetString("s3_region"),
				Endpoint:     v.GetString("s3_endpoint"),
				UsePathStyle: v.GetBool("s3_path_style"),
			})
			if err != nil {
				return err
			}

			var reporter harness.Reporter
			if !cfg.TestMode {
				reporter = client.New(v.GetString("api_host"), v.GetString("internal_api_key"))
			}

			h, err := harness.New(cfg, objects, reporter, runtime.NewExecRuntime(cfg.StagingDir), logr)
			if err != nil {
				return err
			}
			results, err := h.Validate(ctx)
			if err != nil {
				return err
			}
			if cfg.TestMode {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.test, "test", false, "Do not report to the API, print the results instead")
	flags.BoolVar(&opts.keep, "keep", false, "Keep staged files after the run")
	flags.Float64VarP(&opts.timeout, "timeout", "t", 0, "Validator timeout in seconds (0 means none)")
	flags.StringVar(&opts.stagingDir, "staging-dir", harness.DefaultStagingDir, "Directory files are staged in")

	for key, name := range env {
		v.BindEnv(key, name)
	}
	return cmd
}

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}
