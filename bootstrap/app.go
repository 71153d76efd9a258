package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tdrf/config"
	"tdrf/core"
	"tdrf/detect"
	"tdrf/ingest"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// App is the long-running tdrf service: a Detector fed from readers and the
// HTTP ingest route, with alerts fanned out to the configured sinks.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	EventCh  chan *core.Event
	Engine   *detect.CorrelationEngine
	Detector *detect.Detector
	Sinks    *Sinks
	Server   *Server

	started      bool
	feedWg       sync.WaitGroup
	feedCtx      context.Context
	cancelFeeds  context.CancelFunc
	shutdownOnce sync.Once
}

// NewApp builds the engine, sinks and detector from cfg. Nothing runs until
// Start.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sugar := logger.Sugar()

	engineCfg, err := BuildEngineConfig(cfg, sugar)
	if err != nil {
		return nil, err
	}

	sinks, err := InitSinks(cfg, sugar)
	if err != nil {
		return nil, err
	}

	engine, err := detect.NewCorrelationEngine(engineCfg, sinks.Multi, sugar, detect.WithSinkName("multi"))
	if err != nil {
		_ = sinks.Close()
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Sugar:   sugar,
		EventCh: make(chan *core.Event, cfg.Ingest.BufferSize),
		Engine:  engine,
		Sinks:   sinks,
	}
	app.feedCtx, app.cancelFeeds = context.WithCancel(context.Background())
	app.Detector = detect.NewDetector(engine, app.EventCh, nil, sugar)

	if cfg.Metrics.Enabled || cfg.Ingest.HTTPEnabled {
		var handler *ingest.HTTPHandler
		if cfg.Ingest.HTTPEnabled {
			handler = ingest.NewHTTPHandler(app.EventCh, cfg.Ingest.RateLimit, sugar)
		}
		var opts []ServerOption
		if !cfg.Metrics.Enabled {
			opts = append(opts, WithoutMetrics())
		}
		app.Server = NewServer(cfg.Metrics.Addr, app.Detector, sinks.Memory, handler, sugar, opts...)
	}
	return app, nil
}

// Start launches the detector and, if enabled, the HTTP server.
func (a *App) Start() error {
	a.Detector.Start()
	a.started = true
	if a.Server != nil {
		if err := a.Server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}
	a.Sugar.Info("tdrf started")
	return nil
}

// Feed streams events from r into the detector in the background. name
// labels log lines. Feeding stops at EOF, on error or at shutdown.
func (a *App) Feed(name string, r io.Reader, format ingest.Format) {
	feeder := ingest.NewFeeder(ingest.FeederConfig{
		Format:      format,
		RateLimit:   a.Config.Ingest.RateLimit,
		Burst:       a.Config.Ingest.Burst,
		SkipInvalid: a.Config.Ingest.SkipInvalid,
	}, a.EventCh, a.Sugar)

	a.feedWg.Add(1)
	go func() {
		defer a.feedWg.Done()
		res, err := feeder.Feed(a.feedCtx, r)
		if err != nil && a.feedCtx.Err() == nil {
			a.Sugar.Errorf("Event feed %s stopped: %v", name, err)
		}
		a.Sugar.Infow("Event feed finished", "feed", name, "fed", res.Fed, "skipped", res.Skipped)
	}()
}

// WaitForShutdown blocks until a shutdown signal is received or ctx ends.
func (a *App) WaitForShutdown(ctx context.Context) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		a.Sugar.Infof("Received %s", sig)
	case <-ctx.Done():
	}
}

// Shutdown stops intake, lets the detector drain buffered events, then
// closes the sinks. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Phase 1 - stop intake
	if a.Server != nil {
		if err := a.Server.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop HTTP server", "error", err)
		}
	}
	a.cancelFeeds()
	a.feedWg.Wait()

	// Phase 2 - drain the detector; closing the input ends its loop
	close(a.EventCh)
	if a.started {
		select {
		case <-a.Detector.Done():
		case <-ctx.Done():
			a.Sugar.Warn("Detector drain timed out")
		}
		a.Detector.Stop()
	}

	// Phase 3 - release sinks
	if err := a.Sinks.Close(); err != nil {
		a.Sugar.Errorw("Failed to close alert sinks", "error", err)
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
