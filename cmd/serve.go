package cmd

import (
	"fmt"
	"os"

	"tdrf/bootstrap"
	"tdrf/ingest"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		fromStdin bool
		files     []string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the correlation engine as a service",
		Long: `Serve runs the correlation engine until interrupted. Events arrive over
HTTP POST on /api/v1/events (when the metrics server is enabled), from stdin
with --stdin, or from files given with --events. Alerts go to the configured
sinks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}

			var fmtOverride ingest.Format
			if format != "" {
				if fmtOverride, err = ingest.ParseFormat(format); err != nil {
					return err
				}
			} else if fmtOverride, err = ingest.ParseFormat(cfg.Ingest.Format); err != nil {
				return err
			}

			app, err := bootstrap.NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Shutdown()

			if err := app.Start(); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}

			if fromStdin {
				app.Feed("stdin", cmd.InOrStdin(), fmtOverride)
			}
			for _, path := range files {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open events file: %w", err)
				}
				defer f.Close()
				ff := fmtOverride
				if format == "" {
					ff = ingest.FormatFromPath(path)
				}
				app.Feed(path, f, ff)
			}

			if !quiet && app.Server != nil {
				infoColor.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", app.Server.Addr())
			}
			app.WaitForShutdown(cmd.Context())
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read events from stdin")
	cmd.Flags().StringSliceVarP(&files, "events", "e", nil, "Event files to feed at startup")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format (json, msgpack); default from config or file extension")

	return cmd
}
