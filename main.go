//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/screenglow/cmd"
	"github.com/smazurov/screenglow/internal/api"
	"github.com/smazurov/screenglow/internal/app"
	"github.com/smazurov/screenglow/internal/capture"
	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/config"
	"github.com/smazurov/screenglow/internal/events"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/led"
	"github.com/smazurov/screenglow/internal/logging"
	"github.com/smazurov/screenglow/internal/metrics"
	"github.com/smazurov/screenglow/internal/pipeline"
	"github.com/smazurov/screenglow/internal/region"
	"github.com/smazurov/screenglow/internal/source"
	"github.com/smazurov/screenglow/internal/version"
	"github.com/smazurov/screenglow/internal/watchdog"
	"github.com/smazurov/screenglow/pkg/serial"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Serial settings
	SerialDevice            string `help:"Serial device of the LED controller" default:"/dev/ttyACM0" toml:"serial.device" env:"SERIAL_DEVICE"`
	SerialBaud              int    `help:"Baud rate" default:"115200" toml:"serial.baud" env:"SERIAL_BAUD"`
	SerialFlowControl       string `help:"Flow control (none, hardware)" default:"hardware" toml:"serial.flow_control" env:"SERIAL_FLOW_CONTROL"`
	SerialDTR               bool   `help:"Assert DTR after opening" default:"true" toml:"serial.dtr" env:"SERIAL_DTR"`
	SerialWriteTimeout      string `help:"Per-packet write timeout (0 blocks)" default:"0s" toml:"serial.write_timeout" env:"SERIAL_WRITE_TIMEOUT"`
	SerialReconnectAttempts int    `help:"Reopen attempts after a failed write" default:"0" toml:"serial.reconnect_attempts" env:"SERIAL_RECONNECT_ATTEMPTS"`
	SerialDeviceWait        string `help:"How long to wait for a missing device node" default:"10s" toml:"serial.device_wait" env:"SERIAL_DEVICE_WAIT"`

	// Source settings
	SourceType   string `help:"Color source (capture, static, rotating, solid)" default:"capture" toml:"source.type" env:"SOURCE_TYPE"`
	SourceColors string `help:"Comma separated palette for gradient sources" default:"#b84097,#9700bd" toml:"source.colors" env:"SOURCE_COLORS"`

	// Capture settings
	CaptureDisplay       string `help:"Wayland display (default $WAYLAND_DISPLAY)" toml:"capture.display" env:"CAPTURE_DISPLAY"`
	CaptureOutput        string `help:"Output to capture, e.g. DP-1 (default first)" toml:"capture.output" env:"CAPTURE_OUTPUT"`
	CaptureSampling      string `help:"Sampling policy (point, average)" default:"point" toml:"capture.sampling" env:"CAPTURE_SAMPLING"`
	CaptureBuffer        string `help:"Preferred buffer type (dmabuf, shm)" default:"dmabuf" toml:"capture.buffer" env:"CAPTURE_BUFFER"`
	CaptureMaxRetries    int    `help:"Consecutive capture failures tolerated" default:"5" toml:"capture.max_retries" env:"CAPTURE_MAX_RETRIES"`
	CaptureOverlayCursor bool   `help:"Include the cursor in captures" default:"false" toml:"capture.overlay_cursor" env:"CAPTURE_OVERLAY_CURSOR"`
	CaptureUdmabuf       string `help:"udmabuf device for dmabuf buffers" default:"/dev/udmabuf" toml:"capture.udmabuf_device" env:"CAPTURE_UDMABUF_DEVICE"`

	// Pipeline settings
	PipelineMaxFPS int `help:"Packet rate cap (0 uncapped)" default:"0" toml:"pipeline.max_fps" env:"PIPELINE_MAX_FPS"`

	// Server settings
	ServerAddr   string `help:"Status API address (empty disables)" toml:"server.addr" env:"SERVER_ADDR"`
	AuthUsername string `help:"Basic auth username" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Features settings
	FeaturesStatusLED     bool   `help:"Mirror pipeline state on the board LED" default:"false" toml:"features.status_led" env:"FEATURES_STATUS_LED"`
	FeaturesStatusLEDName string `help:"LED under /sys/class/leds (default detected)" toml:"features.status_led_name" env:"FEATURES_STATUS_LED_NAME"`
	FeaturesWatchConfig   bool   `help:"Restart the pipeline when the layout changes" default:"true" toml:"features.watch_config" env:"FEATURES_WATCH_CONFIG"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

// daemonConfig validates the options that select devices and behaviour.
func daemonConfig(opts *Options) (app.Config, error) {
	kind, err := source.ParseKind(opts.SourceType)
	if err != nil {
		return app.Config{}, err
	}
	var palette []colors.RGB
	for _, s := range strings.Split(opts.SourceColors, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		c, err := colors.ParseHex(s)
		if err != nil {
			return app.Config{}, fault.Wrap(fault.CodeConfigInvalid, "source.colors", err)
		}
		palette = append(palette, c)
	}
	flow, err := serial.ParseFlowControl(opts.SerialFlowControl)
	if err != nil {
		return app.Config{}, fault.Wrap(fault.CodeConfigInvalid, "serial.flow_control", err)
	}
	if !serial.ValidBaud(opts.SerialBaud) {
		return app.Config{}, fault.Newf(fault.CodeConfigInvalid, "serial.baud %d is not supported", opts.SerialBaud)
	}
	policy, err := region.ParsePolicy(opts.CaptureSampling)
	if err != nil {
		return app.Config{}, err
	}
	buffer, err := capture.ParseOfferKind(opts.CaptureBuffer)
	if err != nil {
		return app.Config{}, fault.Wrap(fault.CodeConfigInvalid, "capture.buffer", err)
	}

	writeTimeout, err := time.ParseDuration(opts.SerialWriteTimeout)
	if err != nil {
		return app.Config{}, fault.Wrap(fault.CodeConfigInvalid, "serial.write_timeout", err)
	}
	deviceWait, err := time.ParseDuration(opts.SerialDeviceWait)
	if err != nil {
		return app.Config{}, fault.Wrap(fault.CodeConfigInvalid, "serial.device_wait", err)
	}
	if opts.PipelineMaxFPS < 0 {
		return app.Config{}, fault.Newf(fault.CodeConfigInvalid, "pipeline.max_fps %d is negative", opts.PipelineMaxFPS)
	}

	maxRetries := opts.CaptureMaxRetries
	if maxRetries == 0 {
		// Zero would select the session default; here it means no retries.
		maxRetries = -1
	}

	return app.Config{
		LayoutPath:  opts.Config,
		WatchLayout: opts.FeaturesWatchConfig,
		Serial: serial.Config{
			Device:       opts.SerialDevice,
			Baud:         opts.SerialBaud,
			FlowControl:  flow,
			DTR:          opts.SerialDTR,
			WriteTimeout: writeTimeout,
		},
		ReconnectAttempts: opts.SerialReconnectAttempts,
		DeviceWait:        deviceWait,
		Source:            kind,
		Palette:           palette,
		Capture: app.CaptureConfig{
			Display:       opts.CaptureDisplay,
			Output:        opts.CaptureOutput,
			Sampling:      policy,
			Buffer:        buffer,
			MaxRetries:    maxRetries,
			OverlayCursor: opts.CaptureOverlayCursor,
			UdmabufDevice: opts.CaptureUdmabuf,
		},
		MaxFPS: float64(opts.PipelineMaxFPS),
	}, nil
}

// exitOnFault logs a fatal error with its code and exits 1.
func exitOnFault(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err, "code", string(fault.CodeOf(err)))
	os.Exit(1)
}

func main() {
	var root *cobra.Command
	current := &Options{}

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Error("Failed to load config", "error", loadErr)
			os.Exit(1)
		}

		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)
		*current = *opts

		logger := logging.GetLogger("main")
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan struct{})

		hooks.OnStart(func() {
			defer close(stopped)
			logger.Info("screenglow starting", "version", version.String(), "config", opts.Config)
			if err := run(ctx, opts, logger); err != nil {
				cancel()
				exitOnFault(logger, "Pipeline failed", err)
			}
			logger.Info("Shutdown complete")
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			<-stopped
		})
	})

	load := func() (app.Config, error) {
		return daemonConfig(current)
	}

	root = cli.Root()
	root.Use = "screenglow"
	root.Short = "Screen capture to Adalight LED controller"
	root.Version = version.String()

	root.AddCommand(cmd.CreateLayoutCmd())
	root.AddCommand(cmd.CreateSnapshotCmd(load))
	root.AddCommand(cmd.CreateCheckCmd(load))

	cli.Run()
}

// run wires the daemon with its observers and the optional API server, then
// blocks until ctx is done or the pipeline fails.
func run(ctx context.Context, opts *Options, logger *slog.Logger) error {
	cfg, err := daemonConfig(opts)
	if err != nil {
		return err
	}

	eventBus := events.New()
	notifier := watchdog.New(logging.GetLogger("watchdog"))

	var ledController led.Controller
	if opts.FeaturesStatusLED {
		ledLogger := logging.GetLogger("led")
		ledController = led.New(opts.FeaturesStatusLEDName, ledLogger)
		ledManager := led.NewManager(ledController, eventBus, ledLogger)
		ledManager.Start()
		defer ledManager.Stop()
	}

	daemon := app.New(cfg, app.Options{
		Bus:       eventBus,
		Observers: []pipeline.Observer{metrics.Observer{}, notifier},
		OnReload: func(config.Strip) {
			notifier.Reloading()
		},
	})
	strip, err := daemon.LoadLayout(cfg.LayoutPath)
	if err != nil {
		return err
	}

	go notifier.Run(ctx)

	if opts.ServerAddr != "" {
		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Status:            daemon,
			EventBus:          eventBus,
			LEDController:     ledController,
			PrometheusHandler: metrics.Handler(),
		})
		go func() {
			logger.Info("API server listening", "addr", opts.ServerAddr)
			if serveErr := server.Serve(ctx, opts.ServerAddr); serveErr != nil {
				logger.Error("API server failed", "error", serveErr)
			}
		}()
	}

	err = daemon.Run(ctx, strip)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
