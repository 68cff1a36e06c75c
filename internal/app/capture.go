//go:build linux

package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smazurov/screenglow/internal/capture"
	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/region"
	"github.com/smazurov/screenglow/internal/screencopy"
)

// CaptureConfig selects the output and how frames are copied and sampled.
type CaptureConfig struct {
	Display       string
	Output        string
	Sampling      region.Policy
	Buffer        capture.OfferKind
	MaxRetries    int
	OverlayCursor bool
	UdmabufDevice string
}

// CaptureObserver receives capture session notifications.
type CaptureObserver interface {
	CaptureFailed(err error, consecutive int)
	GeometryChanged(width, height uint32)
}

// Capture is a screen capture source bound to one compositor output.
type Capture struct {
	session *capture.Session
	client  *screencopy.Client
	dmabuf  *screencopy.DmabufAllocator
	logger  *slog.Logger
}

// OpenCapture connects to the compositor and prepares a session over
// regions. A nil sampler selects cfg.Sampling.
func OpenCapture(ctx context.Context, cfg CaptureConfig, regions []region.Region, sampler region.Sampler, observers []CaptureObserver, logger *slog.Logger) (*Capture, error) {
	if sampler == nil {
		s, err := region.New(cfg.Sampling)
		if err != nil {
			return nil, err
		}
		sampler = s
	}

	client, err := screencopy.Connect(ctx, screencopy.Options{
		Display:       cfg.Display,
		Output:        cfg.Output,
		OverlayCursor: cfg.OverlayCursor,
	})
	if err != nil {
		return nil, err
	}
	c := &Capture{client: client, logger: logger}

	allocators := make(map[capture.OfferKind]capture.Allocator)
	if client.SupportsDmabuf() && cfg.Buffer == capture.OfferDMABuf {
		dmabuf, err := screencopy.NewDmabufAllocator(cfg.UdmabufDevice)
		if err != nil {
			logger.Warn("dmabuf allocation unavailable, falling back to shared memory", "device", cfg.UdmabufDevice, "error", err)
		} else {
			c.dmabuf = dmabuf
			allocators[capture.OfferDMABuf] = dmabuf
		}
	}
	if client.SupportsShm() {
		allocators[capture.OfferShm] = screencopy.ShmAllocator{}
	}
	if len(allocators) == 0 {
		_ = c.Close()
		return nil, fault.New(fault.CodeCaptureUnavailable, "compositor offers no usable buffer type")
	}

	session, err := capture.NewSession(client, capture.Options{
		Regions:    regions,
		Sampler:    sampler,
		Allocators: allocators,
		Prefer:     cfg.Buffer,
		MaxRetries: cfg.MaxRetries,
		OnFailure: func(err error, consecutive int) {
			for _, o := range observers {
				o.CaptureFailed(err, consecutive)
			}
		},
		OnGeometry: func(width, height uint32) {
			logger.Info("Capture geometry", "width", width, "height", height)
			for _, o := range observers {
				o.GeometryChanged(width, height)
			}
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.session = session
	return c, nil
}

// NextColors implements source.Source.
func (c *Capture) NextColors(ctx context.Context) (colors.Buffer, error) {
	return c.session.NextColors(ctx)
}

// Outputs lists the outputs the compositor announced.
func (c *Capture) Outputs() []screencopy.OutputInfo {
	return c.client.Outputs()
}

// String names the source in logs.
func (c *Capture) String() string {
	return "capture"
}

// Close releases the session, then the compositor connection.
func (c *Capture) Close() error {
	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Close())
	}
	errs = append(errs, c.client.Close())
	if c.dmabuf != nil {
		errs = append(errs, c.dmabuf.Close())
	}
	return errors.Join(errs...)
}
