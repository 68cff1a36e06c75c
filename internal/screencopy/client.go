//go:build linux

// Package screencopy implements capture.Compositor on top of the
// wlr-screencopy protocol.
package screencopy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smazurov/screenglow/internal/capture"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/logging"
	"github.com/smazurov/screenglow/pkg/wayland"
)

// Options configures the compositor connection.
type Options struct {
	Display       string // socket name or path; empty uses $WAYLAND_DISPLAY
	Output        string // wl_output name such as "DP-1"; empty picks the first
	OverlayCursor bool
	Logger        *slog.Logger
}

// OutputInfo describes an output announced by the compositor.
type OutputInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Width       int32  `json:"width"`
	Height      int32  `json:"height"`
	RefreshMHz  int32  `json:"refresh_mhz"`
}

// Client is a connected screencopy client bound to one output.
type Client struct {
	conn    *wayland.Conn
	manager *wayland.ScreencopyManager
	shm     *wayland.Shm
	dmabuf  *wayland.LinuxDmabuf
	output  *wayland.Output
	outputs []OutputInfo
	cursor  bool
	logger  *slog.Logger

	seq    uint64
	events eventQueue
}

// Connect connects to the compositor, discovers globals and binds the
// requested output. It fails with CAPTURE_UNAVAILABLE when the compositor
// lacks screencopy or the output does not exist.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("wayland")
	}
	conn, err := wayland.Connect(opts.Display, logger)
	if err != nil {
		return nil, fault.Wrap(fault.CodeCaptureUnavailable, "connect to compositor", err)
	}
	c := &Client{conn: conn, cursor: opts.OverlayCursor, logger: logger}
	if err := c.setup(ctx, opts.Output); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) setup(ctx context.Context, outputName string) error {
	reg, err := c.conn.Display().GetRegistry()
	if err != nil {
		return fault.Wrap(fault.CodeProtocolError, "get registry", err)
	}
	if err := c.conn.Roundtrip(ctx); err != nil {
		return fault.Wrap(fault.CodeProtocolError, "registry roundtrip", err)
	}

	g, ok := reg.Find(wayland.ScreencopyManagerInterface)
	if !ok {
		return fault.New(fault.CodeCaptureUnavailable, "compositor does not support "+wayland.ScreencopyManagerInterface)
	}
	if c.manager, err = reg.BindScreencopyManager(g); err != nil {
		return fault.Wrap(fault.CodeProtocolError, "bind screencopy manager", err)
	}
	if g, ok := reg.Find("wl_shm"); ok {
		if c.shm, err = reg.BindShm(g); err != nil {
			return fault.Wrap(fault.CodeProtocolError, "bind wl_shm", err)
		}
	}
	if g, ok := reg.Find("zwp_linux_dmabuf_v1"); ok {
		if c.dmabuf, err = reg.BindLinuxDmabuf(g); err != nil {
			return fault.Wrap(fault.CodeProtocolError, "bind linux-dmabuf", err)
		}
	}

	var outputs []*wayland.Output
	for _, og := range reg.FindAll("wl_output") {
		o, err := reg.BindOutput(og)
		if err != nil {
			return fault.Wrap(fault.CodeProtocolError, "bind wl_output", err)
		}
		outputs = append(outputs, o)
	}
	if err := c.conn.Roundtrip(ctx); err != nil {
		return fault.Wrap(fault.CodeProtocolError, "output roundtrip", err)
	}

	for i, o := range outputs {
		name := o.Name
		if name == "" {
			name = fmt.Sprintf("output-%d", i)
		}
		c.outputs = append(c.outputs, OutputInfo{
			Name: name, Description: o.Description,
			Width: o.Width, Height: o.Height, RefreshMHz: o.Refresh,
		})
		if c.output == nil && (outputName == "" || outputName == name) {
			c.output = o
			continue
		}
		_ = o.Release()
	}
	if c.output == nil {
		if outputName != "" {
			return fault.Newf(fault.CodeCaptureUnavailable, "output %q not found", outputName)
		}
		return fault.New(fault.CodeCaptureUnavailable, "compositor announced no outputs")
	}

	c.logger.Info("Connected to compositor",
		"screencopy_version", c.manager.Version(),
		"shm", c.shm != nil,
		"dmabuf", c.dmabuf != nil,
		"output", c.output.Name,
		"width", c.output.Width,
		"height", c.output.Height)
	return nil
}

// Outputs lists the outputs seen at connect time.
func (c *Client) Outputs() []OutputInfo {
	return c.outputs
}

// SupportsShm reports whether wl_shm buffers can be created.
func (c *Client) SupportsShm() bool { return c.shm != nil }

// SupportsDmabuf reports whether linux-dmabuf buffers can be created.
func (c *Client) SupportsDmabuf() bool { return c.dmabuf != nil }

// RequestFrame implements capture.Compositor.
func (c *Client) RequestFrame() (capture.Frame, error) {
	wf, err := c.manager.CaptureOutput(c.cursor, c.output)
	if err != nil {
		return nil, err
	}
	c.seq++
	f := &frame{client: c, id: c.seq, wl: wf}
	wf.SetListener(c.events.listener(f.id, c.manager.Version()))
	return f, nil
}

// Dispatch implements capture.Compositor. It blocks until an event for a
// capture frame is available.
func (c *Client) Dispatch(ctx context.Context) (capture.Event, error) {
	for {
		if ev, ok := c.events.pop(); ok {
			return ev, nil
		}
		if err := c.conn.Dispatch(ctx); err != nil {
			return capture.Event{}, err
		}
	}
}

// Close disconnects from the compositor.
func (c *Client) Close() error {
	if c.manager != nil {
		_ = c.manager.Destroy()
	}
	if c.output != nil {
		_ = c.output.Release()
	}
	return c.conn.Close()
}

// frame is one screencopy request.
type frame struct {
	client *Client
	id     uint64
	wl     *wayland.ScreencopyFrame
}

func (f *frame) ID() uint64 { return f.id }

// Copy wraps buf in a wl_buffer and submits it.
func (f *frame) Copy(buf capture.Buffer) (capture.Attachment, error) {
	info := buf.Info()
	att := &attachment{}

	var err error
	switch info.Kind {
	case capture.OfferShm:
		if f.client.shm == nil {
			return nil, fmt.Errorf("compositor offered no wl_shm")
		}
		att.buffer, err = f.client.shmBuffer(info)
	case capture.OfferDMABuf:
		if f.client.dmabuf == nil {
			return nil, fmt.Errorf("compositor offered no linux-dmabuf")
		}
		att.params, att.buffer, err = f.client.dmabufBuffer(info, f.id)
	default:
		return nil, fmt.Errorf("unknown buffer kind %s", info.Kind)
	}
	if err != nil {
		_ = att.Destroy()
		return nil, err
	}
	if err := f.wl.Copy(att.buffer); err != nil {
		_ = att.Destroy()
		return nil, err
	}
	return att, nil
}

func (f *frame) Destroy() error {
	return f.wl.Destroy()
}

func (c *Client) shmBuffer(info capture.BufferInfo) (*wayland.Buffer, error) {
	pool, err := c.shm.CreatePool(info.FD, int32(info.Size))
	if err != nil {
		return nil, err
	}
	b, err := pool.CreateBuffer(int32(info.Offset), int32(info.Width), int32(info.Height),
		int32(info.Stride), wayland.FourccShmFormat(uint32(info.Format)))
	// The pool is only needed to create the buffer.
	if derr := pool.Destroy(); err == nil {
		err = derr
	}
	return b, err
}

func (c *Client) dmabufBuffer(info capture.BufferInfo, frameID uint64) (*wayland.BufferParams, *wayland.Buffer, error) {
	params, err := c.dmabuf.CreateParams()
	if err != nil {
		return nil, nil, err
	}
	params.OnFailed = func() {
		c.logger.Warn("Compositor rejected dma-buf", "frame", frameID, "format", info.Format.String())
		c.events.push(capture.Event{Kind: capture.EventFailed, Frame: frameID})
	}
	if err := params.Add(info.FD, 0, info.Offset, info.Stride, info.Modifier); err != nil {
		return params, nil, err
	}
	b, err := params.CreateImmed(int32(info.Width), int32(info.Height), uint32(info.Format), 0)
	return params, b, err
}

// attachment is the wl_buffer (and dma-buf params) wrapping one capture buffer.
type attachment struct {
	buffer *wayland.Buffer
	params *wayland.BufferParams
}

func (a *attachment) Destroy() error {
	var err error
	if a.buffer != nil {
		err = a.buffer.Destroy()
	}
	if a.params != nil {
		if perr := a.params.Destroy(); err == nil {
			err = perr
		}
	}
	return err
}
