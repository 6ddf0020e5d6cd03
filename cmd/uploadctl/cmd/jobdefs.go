package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"uploadplane/internal/app"
	"uploadplane/internal/batch"
	"uploadplane/internal/config"
	"uploadplane/internal/logger"
	"uploadplane/internal/store"
	"uploadplane/internal/store/postgres"
)

// openBackend connects to the batch backend of the deployment described by
// the server config at path. The docker backend also needs the database.
var openBackend = func(ctx context.Context, path string, logr *slog.Logger) (batch.Backend, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	var jobDefs store.JobDefinitionStore
	closeFn := func() {}
	if cfg.BatchBackend == config.BackendDocker {
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		jobDefs = st
		closeFn = func() { st.Close() }
	}

	backend, err := app.OpenBackend(ctx, cfg, jobDefs, logr)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return backend, closeFn, nil
}

var jobdefsCmd = &cobra.Command{
	Use:   "jobdefs",
	Short: "Manage batch job definitions",
}

var jobdefsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deregister every active job definition",
	Long: `Deregister every active checksum and validation job definition on the
batch backend of a deployment. Definitions are registered again on the next
job submission. This talks to the backend directly, using the server
configuration (the same file and environment the API server reads).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverConfig, _ := cmd.Flags().GetString("server-config")
		logr := logger.New("warn")

		backend, closeFn, err := openBackend(cmd.Context(), serverConfig, logr)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := batch.NewDefinitions(backend, logr).ClearAll(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleared %d job definitions before failing: %w", n, err)
		}
		cmd.Printf("✓ Deregistered %d job definitions\n", n)
		return nil
	},
}

func init() {
	jobdefsClearCmd.Flags().String("server-config", "", "Path to the server config file")

	jobdefsCmd.AddCommand(jobdefsClearCmd)
	rootCmd.AddCommand(jobdefsCmd)
}
