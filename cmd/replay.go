package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"tdrf/bootstrap"
	"tdrf/core"
	"tdrf/detect"
	"tdrf/ingest"
	"tdrf/notify"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// alertCollector is an AlertSink that keeps every alert in arrival order.
type alertCollector struct {
	mu     sync.Mutex
	alerts []*core.Alert
}

func (c *alertCollector) AddAlert(alert *core.Alert) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return alert.CorrelationID, nil
}

func (c *alertCollector) Alerts() []*core.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*core.Alert(nil), c.alerts...)
}

func newReplayCmd() *cobra.Command {
	var (
		format       string
		withSinks    bool
		strict       bool
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "replay [file...]",
		Short: "Run recorded events through the correlation engine",
		Long: `Replay decodes events from the given files (or stdin when none is given or
the file is "-"), runs them through the correlation engine in order and prints
the resulting alerts and a summary.

Files are JSON (one object per line, concatenated objects or a top-level array)
or MessagePack. The format is taken from --format or the file extension.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fmtOverride ingest.Format
			if format != "" {
				f, err := ingest.ParseFormat(format)
				if err != nil {
					return err
				}
				fmtOverride = f
			}
			if len(args) == 0 {
				args = []string{"-"}
			}
			return runReplay(cmd, args, fmtOverride, withSinks, strict, showProgress)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format (json, msgpack); default from file extension")
	cmd.Flags().BoolVar(&withSinks, "with-sinks", false, "Also deliver alerts to the configured sinks")
	cmd.Flags().BoolVar(&strict, "strict", false, "Stop at the first invalid event instead of skipping it")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

func runReplay(cmd *cobra.Command, paths []string, format ingest.Format, withSinks, strict, showProgress bool) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	engineCfg, err := bootstrap.BuildEngineConfig(cfg, sugar)
	if err != nil {
		return err
	}

	collector := &alertCollector{}
	multi := notify.NewMultiSink(sugar, notify.NamedSink{Name: "replay", Sink: collector})
	if withSinks {
		sinks, err := bootstrap.InitSinks(cfg, sugar)
		if err != nil {
			return err
		}
		defer sinks.Close()
		multi.Add("configured", sinks.Multi)
	}

	engine, err := detect.NewCorrelationEngine(engineCfg, multi, sugar, detect.WithSinkName("replay"))
	if err != nil {
		return err
	}

	events := make(chan *core.Event, cfg.Ingest.BufferSize)
	detector := detect.NewDetector(engine, events, nil, sugar)
	detector.Start()

	var s *spinner.Spinner
	if showProgress && !outputJSON && !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		s.Suffix = " Replaying events..."
		s.Start()
	}

	total, feedErr := feedSources(cmd, paths, format, strict, events, cfg.Ingest.Burst)

	close(events)
	<-detector.Done()
	detector.Stop()

	if s != nil {
		s.Stop()
	}
	if feedErr != nil {
		return feedErr
	}

	summary := newReplaySummary(total, collector.Alerts(), engine.Statistics())
	if outputJSON {
		return outputAsJSON(cmd.OutOrStdout(), summary)
	}
	if quiet {
		for _, a := range summary.Alerts {
			renderAlert(cmd.OutOrStdout(), a)
		}
		return nil
	}
	renderReplaySummary(cmd.OutOrStdout(), summary)
	return nil
}

// feedSources feeds each source in turn. Replay is never throttled.
func feedSources(cmd *cobra.Command, paths []string, format ingest.Format, strict bool, out chan<- *core.Event, burst int) (ingest.FeedResult, error) {
	var total ingest.FeedResult
	for _, path := range paths {
		r, name, closeFn, err := openSource(cmd, path)
		if err != nil {
			return total, err
		}

		f := format
		if f == "" {
			f = ingest.FormatFromPath(path)
		}
		feeder := ingest.NewFeeder(ingest.FeederConfig{
			Format:      f,
			Burst:       burst,
			SkipInvalid: !strict,
		}, out, nil)

		res, err := feeder.Feed(cmd.Context(), r)
		closeFn()
		total.Fed += res.Fed
		total.Skipped += res.Skipped
		if err != nil {
			return total, fmt.Errorf("%s: %w", name, err)
		}
	}
	return total, nil
}

func openSource(cmd *cobra.Command, path string) (io.Reader, string, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), "stdin", func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, path, nil, fmt.Errorf("failed to open events file: %w", err)
	}
	return f, path, func() { _ = f.Close() }, nil
}
