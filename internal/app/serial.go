//go:build linux

package app

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/pipeline"
	"github.com/smazurov/screenglow/pkg/hotplug"
	"github.com/smazurov/screenglow/pkg/serial"
)

// SerialOpener opens the port, first waiting up to wait for the device
// node to appear when it is missing (USB controllers re-enumerate after a
// reset or replug).
func SerialOpener(cfg serial.Config, wait time.Duration, logger *slog.Logger) pipeline.Opener {
	return func(ctx context.Context) (io.WriteCloser, error) {
		if err := waitForDevice(ctx, cfg.Device, wait, logger); err != nil {
			return nil, err
		}
		port, err := serial.Open(cfg)
		if err != nil {
			return nil, fault.Wrap(fault.CodeTransportError, "open serial port", err)
		}
		logger.Info("Serial port opened", "device", cfg.Device, "baud", cfg.Baud, "flow_control", string(cfg.FlowControl))
		return port, nil
	}
}

func waitForDevice(ctx context.Context, device string, wait time.Duration, logger *slog.Logger) error {
	if _, err := os.Stat(device); !errors.Is(err, fs.ErrNotExist) || wait <= 0 {
		return nil
	}

	mon, err := hotplug.NewMonitor(hotplug.SubsystemTTY)
	if err != nil {
		logger.Warn("Hotplug monitor unavailable, not waiting for device", "device", device, "error", err)
		return nil
	}
	defer mon.Close()

	logger.Info("Waiting for serial device", "device", device, "timeout", wait)
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := mon.WaitForNode(waitCtx, device); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.CodeTransportError, "serial device "+device+" did not appear", err)
	}
	return nil
}
