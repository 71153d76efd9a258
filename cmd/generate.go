package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"tdrf/eventgen"
	"tdrf/ingest"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func newGenerateCmd() *cobra.Command {
	var (
		scenario string
		opts     eventgen.ScenarioOptions
		seed     int64
		start    string
		step     time.Duration
		format   string
		output   string
		url      string
		batch    int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate synthetic attack scenarios",
		Long: fmt.Sprintf(`Generate writes synthetic events for an attack scenario to stdout or a file,
or posts them to a running tdrf serve instance with --url.

Scenarios: %v`, eventgen.Scenarios()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ingest.ParseFormat(format)
			if err != nil {
				return err
			}
			startTime := time.Now().UTC()
			if start != "" {
				if startTime, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			records, err := eventgen.NewGenerator(seed, startTime, step).Scenario(scenario, opts)
			if err != nil {
				return err
			}

			if url != "" {
				var s *spinner.Spinner
				if !quiet && !outputJSON {
					s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
					s.Suffix = fmt.Sprintf(" Sending %d events...", len(records))
					s.Start()
				}
				client := &http.Client{Timeout: 30 * time.Second}
				resp, err := eventgen.Send(cmd.Context(), client, url, records, batch)
				if s != nil {
					s.Stop()
				}
				if err != nil {
					return err
				}
				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), resp)
				}
				successColor.Fprintf(cmd.OutOrStdout(), "✓ Sent %d events", len(records))
				fmt.Fprintf(cmd.OutOrStdout(), " (accepted %d, rejected %d, dropped %d)\n", resp.Accepted, resp.Rejected, resp.Dropped)
				return nil
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				w = file
			}
			if err := eventgen.Write(w, records, f); err != nil {
				return err
			}
			if w != cmd.OutOrStdout() && !quiet {
				successColor.Fprintf(cmd.ErrOrStderr(), "✓ Wrote %d %s events to %s\n", len(records), scenario, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenario, "scenario", "s", eventgen.ScenarioMixed, "Scenario to generate")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10, "Number of attack events")
	cmd.Flags().StringVar(&opts.SourceIP, "source-ip", "", "Attacker address (default: random)")
	cmd.Flags().StringVar(&opts.TargetIP, "target-ip", "", "Target address (default: random)")
	cmd.Flags().StringVar(&opts.Username, "username", "", "Targeted account (default: random)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (default: time based)")
	cmd.Flags().StringVar(&start, "start", "", "RFC3339 timestamp of the first event (default: now)")
	cmd.Flags().DurationVar(&step, "step", time.Second, "Average time between events")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format (json, msgpack)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&url, "url", "", "Post events to this ingest URL instead of writing them")
	cmd.Flags().IntVar(&batch, "batch", 500, "Events per request with --url")

	return cmd
}
