package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"skyburst/internal/logging"
	"skyburst/internal/opensky"
	"skyburst/internal/serial"
	"skyburst/internal/telemetry"
)

// StateFetcher supplies one batch of aircraft states per polling cycle.
type StateFetcher interface {
	FetchStates(ctx context.Context, box opensky.BoundingBox) ([]telemetry.RawAircraftRecord, error)
}

// SinkOpener opens the byte sink a burst is written to.
type SinkOpener func() (io.WriteCloser, error)

// Stats is a snapshot of the bridge counters.
type Stats struct {
	Cycles        int64
	Records       int64
	Rejected      int64
	Bytes         int64
	FetchFailures int64
	WriteFailures int64
}

type counters struct {
	cycles        atomic.Int64
	records       atomic.Int64
	rejected      atomic.Int64
	bytes         atomic.Int64
	fetchFailures atomic.Int64
	writeFailures atomic.Int64
}

// Application represents the main application
type Application struct {
	config    Config
	logger    *logrus.Logger
	logCloser io.Closer
	box       opensky.BoundingBox
	policy    telemetry.OverflowPolicy

	fetcher    StateFetcher
	openSink   SinkOpener
	sink       io.WriteCloser
	capture    *logging.CaptureRotator
	captureBuf bytes.Buffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats counters
}

// Option overrides a component, mainly for tests.
type Option func(*Application)

// WithFetcher replaces the OpenSky client.
func WithFetcher(f StateFetcher) Option {
	return func(app *Application) { app.fetcher = f }
}

// WithSinkOpener replaces the serial port.
func WithSinkOpener(open SinkOpener) Option {
	return func(app *Application) { app.openSink = open }
}

// WithLogger replaces the configured logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(app *Application) { app.logger = logger }
}

// NewApplication creates a new application instance
func NewApplication(config Config, opts ...Option) (*Application, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := telemetry.ParseOverflowPolicy(config.OverflowPolicy)

	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: config,
		box:    config.BoundingBox(),
		policy: policy,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		logger, closer, err := logging.NewLogger(config.loggingConfig())
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize logging: %w", err)
		}
		app.logger = logger
		app.logCloser = closer
	}

	if app.fetcher == nil {
		app.fetcher = opensky.NewClient(opensky.ClientConfig{
			BaseURL:  config.OpenSky.BaseURL,
			Username: config.OpenSky.Username,
			Password: config.OpenSky.Password,
			Timeout:  config.OpenSky.Timeout,
		}, app.logger)
	}

	if app.openSink == nil {
		app.openSink = app.defaultSinkOpener()
	}

	return app, nil
}

func (app *Application) defaultSinkOpener() SinkOpener {
	if app.config.DryRun {
		return func() (io.WriteCloser, error) { return discardCloser{}, nil }
	}
	return func() (io.WriteCloser, error) {
		port, err := serial.Open(serial.Config{
			Device: app.config.Serial.Device,
			Baud:   app.config.Serial.Baud,
		})
		if err != nil {
			return nil, err
		}
		app.logger.WithFields(logrus.Fields{
			"device": port.Device(),
			"baud":   port.Baud(),
		}).Info("Serial link established")
		return port, nil
	}
}

// Start starts the application and blocks until a shutdown signal.
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}).Info("Starting skyburst")

	if err := app.initializeComponents(); err != nil {
		app.shutdown()
		return fmt.Errorf("failed to initialize components: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	app.run()

	select {
	case <-sigChan:
		app.logger.Info("Received shutdown signal")
	case <-app.ctx.Done():
	}
	app.shutdown()

	return nil
}

// initializeComponents opens the serial link and the capture files
func (app *Application) initializeComponents() error {
	app.logger.WithFields(logrus.Fields{
		"region":        app.box.String(),
		"radius_km":     app.config.Region.RadiusKm,
		"poll_interval": app.config.PollInterval,
		"overflow":      app.policy.String(),
		"dry_run":       app.config.DryRun,
	}).Info("Configuration")

	sink, err := app.openSink()
	if err != nil {
		return fmt.Errorf("failed to open serial link: %w", err)
	}
	app.sink = sink

	if app.config.Capture.Enable {
		app.capture, err = logging.NewCaptureRotator(app.config.Capture.Dir, app.config.Capture.UTC, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize capture: %w", err)
		}
	}

	return nil
}

// run starts the polling loop and housekeeping goroutines
func (app *Application) run() {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.pollLoop()
	}()

	if app.capture != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.capture.Start(app.ctx, app.config.Capture.MaxDays)
		}()
	}

	if app.config.StatsInterval > 0 {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.reportStatistics()
		}()
	}

	app.logger.Info("All components started successfully")
}

// pollLoop runs one cycle, waits PollInterval, and repeats. Cycles never
// overlap: this goroutine is the only writer to the sink.
func (app *Application) pollLoop() {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-app.ctx.Done():
			app.logger.Info("Polling stopped")
			return
		case <-timer.C:
		}

		if err := app.RunCycle(app.ctx); err != nil && app.ctx.Err() == nil {
			app.logger.WithError(err).Error("Cycle aborted")
		}

		timer.Reset(app.config.PollInterval)
	}
}

// RunCycle fetches one batch and writes it as a single burst. A failed
// fetch still produces a burst with no records so the receiver sees the
// cycle end. A transport failure aborts the burst and is returned. Canceling
// ctx stops the burst at the next record boundary.
func (app *Application) RunCycle(ctx context.Context) error {
	records, err := app.fetcher.FetchStates(ctx, app.box)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		app.stats.fetchFailures.Add(1)
		app.logger.WithError(err).Warn("Failed to fetch aircraft states, sending empty burst")
		records = nil
	}

	if app.sink == nil {
		sink, err := app.openSink()
		if err != nil {
			app.stats.writeFailures.Add(1)
			return fmt.Errorf("serial link unavailable: %w", err)
		}
		app.sink = sink
	}

	app.captureBuf.Reset()
	enc := telemetry.NewEncoder(
		&teeWriter{primary: app.sink, copy: &app.captureBuf},
		telemetry.WithOverflowPolicy(app.policy),
		telemetry.WithRecordGap(app.config.Serial.RecordGap),
		telemetry.WithLogger(app.logger),
	)

	stats, err := enc.WriteBurst(ctx, records)
	app.recordCapture()

	app.stats.records.Add(int64(stats.Records))
	app.stats.rejected.Add(int64(stats.Rejected))
	app.stats.bytes.Add(int64(app.captureBuf.Len()))

	if err != nil && ctx.Err() != nil {
		app.logger.WithField("sent", stats.Records).Info("Burst interrupted by shutdown")
		return ctx.Err()
	}
	if err != nil {
		app.stats.writeFailures.Add(1)
		if app.config.Serial.ReopenOnError {
			app.closeSink()
		}
		return fmt.Errorf("burst aborted after %d of %d records: %w", stats.Records, len(records), err)
	}

	app.stats.cycles.Add(1)
	app.logger.WithFields(logrus.Fields{
		"aircraft": len(records),
		"sent":     stats.Records,
		"rejected": stats.Rejected,
		"bytes":    stats.Bytes,
	}).Info("Transmission complete")

	return nil
}

// recordCapture appends the bytes that reached the sink to the capture file.
func (app *Application) recordCapture() {
	if app.capture == nil || app.captureBuf.Len() == 0 {
		return
	}
	if _, err := app.capture.Write(app.captureBuf.Bytes()); err != nil {
		app.logger.WithError(err).Warn("Failed to write capture")
	}
}

func (app *Application) closeSink() {
	if app.sink == nil {
		return
	}
	if err := app.sink.Close(); err != nil {
		app.logger.WithError(err).Warn("Failed to close serial link")
	}
	app.sink = nil
}

// Stats returns a snapshot of the counters.
func (app *Application) Stats() Stats {
	return Stats{
		Cycles:        app.stats.cycles.Load(),
		Records:       app.stats.records.Load(),
		Rejected:      app.stats.rejected.Load(),
		Bytes:         app.stats.bytes.Load(),
		FetchFailures: app.stats.fetchFailures.Load(),
		WriteFailures: app.stats.writeFailures.Load(),
	}
}

// reportStatistics reports processing statistics periodically
func (app *Application) reportStatistics() {
	ticker := time.NewTicker(app.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			s := app.Stats()
			app.logger.WithFields(logrus.Fields{
				"cycles":         s.Cycles,
				"records_sent":   s.Records,
				"records_reject": s.Rejected,
				"bytes_sent":     s.Bytes,
				"fetch_failures": s.FetchFailures,
				"write_failures": s.WriteFailures,
			}).Info("Bridge statistics")
		}
	}
}

// Stop requests shutdown; Start returns once it completes.
func (app *Application) Stop() {
	app.cancel()
}

// shutdown gracefully shuts down the application
func (app *Application) shutdown() {
	app.logger.Info("Shutting down application")
	app.cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		app.logger.Info("All goroutines finished")
	case <-time.After(5 * time.Second):
		app.logger.Warn("Shutdown timeout, forcing exit")
	}

	app.closeSink()
	if app.capture != nil {
		if err := app.capture.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close capture")
		}
	}

	app.logger.Info("Shutdown completed")

	if app.logCloser != nil {
		_ = app.logCloser.Close()
	}
}

// teeWriter writes to primary and keeps a copy of whatever primary accepted.
type teeWriter struct {
	primary io.Writer
	copy    *bytes.Buffer
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.primary.Write(p)
	if n > 0 {
		t.copy.Write(p[:n])
	}
	return n, err
}

type discardCloser struct{}

func (discardCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardCloser) Close() error                { return nil }

var _ io.WriteCloser = (*serial.Port)(nil)
