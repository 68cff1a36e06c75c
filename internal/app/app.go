//go:build linux

// Package app assembles the daemon: one pipeline generation per strip
// layout, restarted when the layout file changes.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/screenglow/internal/adalight"
	"github.com/smazurov/screenglow/internal/api/models"
	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/config"
	"github.com/smazurov/screenglow/internal/events"
	"github.com/smazurov/screenglow/internal/gamma"
	"github.com/smazurov/screenglow/internal/logging"
	"github.com/smazurov/screenglow/internal/pipeline"
	"github.com/smazurov/screenglow/internal/process"
	"github.com/smazurov/screenglow/internal/screencopy"
	"github.com/smazurov/screenglow/internal/source"
	"github.com/smazurov/screenglow/pkg/serial"
)

// Config is everything a generation needs besides the strip layout.
type Config struct {
	// LayoutPath is watched for strip changes when WatchLayout is set.
	LayoutPath  string
	WatchLayout bool

	Serial            serial.Config
	ReconnectAttempts int
	// DeviceWait is how long opening the port waits for a missing node.
	DeviceWait time.Duration

	Source  source.Kind
	Palette []colors.RGB
	Capture CaptureConfig
	MaxFPS  float64
}

// Options wires the daemon to the rest of the process.
type Options struct {
	Bus       *events.Bus
	Observers []pipeline.Observer // CaptureObservers among them also see capture events
	// OnReload runs before a restart with the new layout.
	OnReload func(config.Strip)
	Logger   *slog.Logger
}

// Daemon runs pipeline generations and reports their status.
type Daemon struct {
	cfg    Config
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	loop    *pipeline.Loop
	strip   config.Strip
	outputs []screencopy.OutputInfo
}

// New creates a daemon. Nothing is opened until Run.
func New(cfg Config, opts Options) *Daemon {
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("main")
	}
	return &Daemon{cfg: cfg, opts: opts, logger: logger}
}

// NeedsRegions reports whether the configured source samples the screen.
func (d *Daemon) NeedsRegions() bool {
	return d.cfg.Source == source.KindCapture
}

// LoadLayout reads and validates the strip layout for this daemon's source.
func (d *Daemon) LoadLayout(path string) (config.Strip, error) {
	s, err := config.LoadStrip(path)
	if err != nil {
		return config.Strip{}, err
	}
	if err := config.Validate(s, d.NeedsRegions()); err != nil {
		return config.Strip{}, err
	}
	return s, nil
}

// Run runs generations until ctx is cancelled, returning nil, or until a
// generation fails, returning its error.
func (d *Daemon) Run(ctx context.Context, strip config.Strip) error {
	sup := process.NewSupervisor(strip, d.runGeneration, d.logger)

	if d.cfg.WatchLayout && d.cfg.LayoutPath != "" {
		w := config.NewWatcher(d.cfg.LayoutPath, d.LoadLayout, logging.GetLogger("config"),
			config.WithErrorHandler[config.Strip](func(err error) {
				d.logger.Warn("Keeping previous layout", "error", err)
			}))
		w.OnReload(func(s config.Strip) {
			d.opts.Bus.Publish(events.LayoutReloadedEvent{
				Lights:    s.LEDs,
				Regions:   len(s.Regions),
				Timestamp: time.Now().Format(time.RFC3339),
			})
			if d.opts.OnReload != nil {
				d.opts.OnReload(s)
			}
			sup.RequestRestart(s)
		})
		if err := w.Start(ctx); err != nil {
			d.logger.Warn("Layout watcher unavailable, changes need a restart", "path", d.cfg.LayoutPath, "error", err)
		} else {
			defer func() {
				if err := w.Stop(); err != nil {
					d.logger.Debug("Layout watcher stop", "error", err)
				}
			}()
		}
	}

	return sup.Run(ctx)
}

func (d *Daemon) runGeneration(ctx context.Context, strip config.Strip) error {
	d.logger.Info("Starting pipeline", "layout", strip.String(), "source", string(d.cfg.Source))

	evObs := events.NewObserver(d.opts.Bus)
	src, closeSrc, err := d.openSource(ctx, strip, evObs)
	if err != nil {
		return err
	}
	defer closeSrc()

	open := SerialOpener(d.cfg.Serial, d.cfg.DeviceWait, logging.GetLogger("serial"))
	port, err := open(ctx)
	if err != nil {
		return err
	}

	enc, err := adalight.NewEncoder(strip.LEDs, gamma.New())
	if err != nil {
		_ = port.Close()
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithRateLimit(d.cfg.MaxFPS),
		pipeline.WithLogger(logging.GetLogger("pipeline")),
	}
	if d.cfg.ReconnectAttempts > 0 {
		opts = append(opts, pipeline.WithReconnect(open, d.cfg.ReconnectAttempts))
	}
	for _, o := range d.opts.Observers {
		opts = append(opts, pipeline.WithObserver(o))
	}
	opts = append(opts, pipeline.WithObserver(evObs))

	loop := pipeline.New(src, enc, port, opts...)
	d.mu.Lock()
	d.loop, d.strip = loop, strip
	d.mu.Unlock()

	runErr := loop.Run(ctx)
	if err := loop.Close(); err != nil {
		d.logger.Debug("Serial port close", "error", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return ctx.Err()
	}
	return runErr
}

func (d *Daemon) openSource(ctx context.Context, strip config.Strip, evObs *events.Observer) (source.Source, func(), error) {
	if d.cfg.Source != source.KindCapture {
		src, err := source.New(d.cfg.Source, d.cfg.Palette, strip.LEDs)
		return src, func() {}, err
	}

	var observers []CaptureObserver
	for _, o := range d.opts.Observers {
		if co, ok := o.(CaptureObserver); ok {
			observers = append(observers, co)
		}
	}
	observers = append(observers, evObs)

	c, err := OpenCapture(ctx, d.cfg.Capture, strip.Regions, nil, observers, logging.GetLogger("capture"))
	if err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	d.outputs = c.Outputs()
	d.mu.Unlock()
	return c, func() { closeQuietly(c, d.logger) }, nil
}

// Status implements api.StatusProvider.
func (d *Daemon) Status() models.StatusData {
	d.mu.RLock()
	loop, strip, outputs := d.loop, d.strip, d.outputs
	d.mu.RUnlock()

	data := models.StatusData{
		Pipeline: models.PipelineData{State: string(pipeline.StateIdle)},
		Layout:   models.LayoutData{Lights: strip.LEDs, Regions: len(strip.Regions), Source: string(d.cfg.Source)},
		Outputs:  make([]models.OutputData, 0, len(outputs)),
	}
	if loop != nil {
		st := loop.Stats()
		data.Pipeline = models.PipelineData{
			State:        string(st.State),
			Frames:       st.Frames,
			BytesWritten: st.BytesWritten,
			Reconnects:   st.Reconnects,
			Lights:       st.Lights,
			StartedAt:    st.StartedAt,
			LastFrameAt:  st.LastFrameAt,
			LastError:    st.LastError,
		}
	}
	for _, o := range outputs {
		data.Outputs = append(data.Outputs, models.OutputData{
			Name:        o.Name,
			Description: o.Description,
			Width:       int(o.Width),
			Height:      int(o.Height),
			RefreshMHz:  int(o.RefreshMHz),
		})
	}
	return data
}

func closeQuietly(c io.Closer, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("Close failed", "error", err)
	}
}
