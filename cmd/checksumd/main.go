// Package main is the checksum daemon. Each invocation consumes one storage
// change notification, read from a file or stdin.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"uploadplane/internal/app"
	"uploadplane/internal/config"
	"uploadplane/internal/daemon"
	"uploadplane/internal/logger"
	"uploadplane/internal/observability"
	"uploadplane/internal/store/postgres"
)

// consumer is the part of the daemon this command drives.
type consumer interface {
	ConsumeEvent(ctx context.Context, n daemon.Notification) error
}

// consume decodes one notification from r and hands it to c.
func consume(ctx context.Context, c consumer, r io.Reader, logr *slog.Logger) error {
	n, err := daemon.DecodeNotification(r)
	if err != nil {
		return err
	}
	logr.Info("consuming storage notification", "records", len(n.Records))
	return c.ConsumeEvent(ctx, n)
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "checksumd [notification.json]",
		Short: "Checksum the objects named in a storage change notification",
		Long: `checksumd reads a storage change notification ({"Records":[...]}) from the
given file, or from stdin when none is given, and checksums every created
object it names. Small objects are checksummed inline; larger ones are handed
to a checksummer batch job.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logr := logger.New(cfg.LogLevel)

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open notification: %w", err)
				}
				defer f.Close()
				in = f
			}

			shutdownTracer, err := observability.InitTracer(ctx, "uploadplane-checksumd", cfg.OTELEndpoint)
			if err != nil {
				return err
			}
			defer shutdownTracer(context.Background())

			st, err := postgres.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to DB: %w", err)
			}
			defer st.Close()

			objects, err := app.OpenStorage(ctx, cfg)
			if err != nil {
				return err
			}
			backend, err := app.OpenBackend(ctx, cfg, st, logr)
			if err != nil {
				return err
			}
			notifier, closeNotifier, err := app.OpenNotifier(cfg, logr)
			if err != nil {
				return err
			}
			defer closeNotifier()

			d, err := app.NewDaemon(cfg, st, objects, backend, notifier, logr)
			if err != nil {
				return err
			}
			return consume(ctx, d, in, logr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
