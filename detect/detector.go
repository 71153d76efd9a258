package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"tdrf/core"
	"tdrf/metrics"
	"tdrf/util/goroutine"

	"go.uber.org/zap"
)

// ErrDetectorStopped is returned by Do once the detector has stopped.
var ErrDetectorStopped = errors.New("detector stopped")

const (
	stopTimeout = 30 * time.Second
	// DefaultSweepInterval is how often idle brute-force keys are dropped.
	DefaultSweepInterval = time.Minute
)

// Detector owns a CorrelationEngine and runs it on a single goroutine. Events
// arrive on an input channel; alerts are forwarded to an optional output
// channel in addition to the engine's sink. Other goroutines reach the engine
// through Do, which runs on the same goroutine.
type Detector struct {
	engine   *CorrelationEngine
	inputCh  <-chan *core.Event
	alertCh  chan<- *core.Alert
	ctrlCh   chan func(*CorrelationEngine)
	doneCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	sweepInterval time.Duration
	processed     int
}

// NewDetector creates a detector. alertCh may be nil.
func NewDetector(engine *CorrelationEngine, inputCh <-chan *core.Event, alertCh chan<- *core.Alert, logger *zap.SugaredLogger) *Detector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Detector{
		engine:  engine,
		inputCh: inputCh,
		alertCh: alertCh,
		ctrlCh:  make(chan func(*CorrelationEngine)),
		doneCh:  make(chan struct{}),
		stopCh:  make(chan struct{}),
		logger:  logger,

		sweepInterval: DefaultSweepInterval,
	}
}

// SetSweepInterval changes how often idle brute-force keys are dropped. It
// must be called before Start; zero or negative disables the sweep.
func (d *Detector) SetSweepInterval(interval time.Duration) {
	d.sweepInterval = interval
}

// Start launches the detector goroutine.
func (d *Detector) Start() {
	d.wg.Add(1)
	go d.run()
}

// Done is closed when the detector goroutine has exited, either because the
// input channel was closed or Stop was called.
func (d *Detector) Done() <-chan struct{} { return d.doneCh }

func (d *Detector) run() {
	defer d.wg.Done()
	defer close(d.doneCh)
	defer goroutine.Recover("detector", d.logger)

	var sweep <-chan time.Time
	if d.sweepInterval > 0 {
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	d.logger.Infof("DETECTOR: started, waiting for events")
	for {
		select {
		case <-sweep:
			if n := d.engine.ExpireTracking(); n > 0 {
				d.logger.Debugf("DETECTOR: expired %d idle brute-force keys", n)
			}
		case <-d.stopCh:
			d.logger.Infof("DETECTOR: stop signal received after processing %d events", d.processed)
			return
		case fn := <-d.ctrlCh:
			fn(d.engine)
		case event, ok := <-d.inputCh:
			if !ok {
				d.logger.Infof("DETECTOR: input closed after processing %d events", d.processed)
				return
			}
			d.process(event)
		}
	}
}

func (d *Detector) process(event *core.Event) {
	if event == nil {
		metrics.EventsDropped.WithLabelValues("nil_event").Inc()
		return
	}
	d.processed++
	d.logger.Debugf("DETECTOR: processing event %d: %s", d.processed, event)

	alerts := d.engine.AddEvent(event)
	if len(alerts) == 0 || d.alertCh == nil {
		return
	}
	for _, alert := range alerts {
		select {
		case d.alertCh <- alert:
		default:
			d.logger.Warnf("DETECTOR: dropped %s alert %s due to full alert channel", alert.AlertType, alert.CorrelationID)
		}
	}
}

// Do runs fn on the detector goroutine and waits for it to finish.
func (d *Detector) Do(ctx context.Context, fn func(*CorrelationEngine)) error {
	done := make(chan struct{})
	wrapped := func(e *CorrelationEngine) {
		defer close(done)
		fn(e)
	}
	select {
	case d.ctrlCh <- wrapped:
	case <-d.doneCh:
		return ErrDetectorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Statistics returns engine statistics taken on the detector goroutine.
func (d *Detector) Statistics(ctx context.Context) (EngineStatistics, error) {
	ch := make(chan EngineStatistics, 1)
	if err := d.Do(ctx, func(e *CorrelationEngine) { ch <- e.Statistics() }); err != nil {
		return EngineStatistics{}, err
	}
	return <-ch, nil
}

// Stop signals the detector to exit and waits for it.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("Detector stopped successfully")
	case <-time.After(stopTimeout):
		d.logger.Warnf("Detector shutdown timed out after %s", stopTimeout)
	}
}
