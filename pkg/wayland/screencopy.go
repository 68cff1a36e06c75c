//go:build linux

package wayland

// Screencopy interface name.
const ScreencopyManagerInterface = "zwlr_screencopy_manager_v1"

// Frame flags.
const ScreencopyFlagYInvert uint32 = 1

// BindScreencopyManager binds zwlr_screencopy_manager_v1 at up to version 3.
func (r *Registry) BindScreencopyManager(g Global) (*ScreencopyManager, error) {
	m := &ScreencopyManager{}
	if err := r.bind(g, 3, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ScreencopyManager is zwlr_screencopy_manager_v1.
type ScreencopyManager struct {
	proxy
}

func (m *ScreencopyManager) dispatch(uint16, *decoder) error { return nil }

// CaptureOutput requests one frame of output. The listener must be set
// before the next Dispatch.
func (m *ScreencopyManager) CaptureOutput(overlayCursor bool, output *Output) (*ScreencopyFrame, error) {
	f := &ScreencopyFrame{}
	e := &encoder{}
	e.Object(m.conn.register(f, "zwlr_screencopy_frame_v1", m.version))
	cursor := int32(0)
	if overlayCursor {
		cursor = 1
	}
	e.Int(cursor)
	e.Object(output.ID())
	if err := m.send(0, e); err != nil {
		return nil, err
	}
	return f, nil
}

// Destroy destroys the manager binding.
func (m *ScreencopyManager) Destroy() error {
	return m.destroy(2)
}

// FrameListener receives zwlr_screencopy_frame_v1 events. Nil fields are
// skipped.
type FrameListener struct {
	Buffer      func(format, width, height, stride uint32) // wl_shm format
	Flags       func(flags uint32)
	Ready       func(sec uint64, nsec uint32)
	Failed      func()
	Damage      func(x, y, width, height uint32)
	LinuxDmabuf func(format, width, height uint32) // fourcc
	BufferDone  func()
}

// ScreencopyFrame is zwlr_screencopy_frame_v1.
type ScreencopyFrame struct {
	proxy
	listener FrameListener
}

// SetListener installs the event callbacks.
func (f *ScreencopyFrame) SetListener(l FrameListener) {
	f.listener = l
}

func (f *ScreencopyFrame) dispatch(opcode uint16, dec *decoder) error {
	l := &f.listener
	switch opcode {
	case 0: // buffer
		format, w, h, stride := dec.Uint(), dec.Uint(), dec.Uint(), dec.Uint()
		if dec.Err() == nil && l.Buffer != nil {
			l.Buffer(format, w, h, stride)
		}
	case 1: // flags
		flags := dec.Uint()
		if dec.Err() == nil && l.Flags != nil {
			l.Flags(flags)
		}
	case 2: // ready
		hi, lo, nsec := dec.Uint(), dec.Uint(), dec.Uint()
		if dec.Err() == nil && l.Ready != nil {
			l.Ready(uint64(hi)<<32|uint64(lo), nsec)
		}
	case 3: // failed
		if l.Failed != nil {
			l.Failed()
		}
	case 4: // damage
		x, y, w, h := dec.Uint(), dec.Uint(), dec.Uint(), dec.Uint()
		if dec.Err() == nil && l.Damage != nil {
			l.Damage(x, y, w, h)
		}
	case 5: // linux_dmabuf
		format, w, h := dec.Uint(), dec.Uint(), dec.Uint()
		if dec.Err() == nil && l.LinuxDmabuf != nil {
			l.LinuxDmabuf(format, w, h)
		}
	case 6: // buffer_done
		if l.BufferDone != nil {
			l.BufferDone()
		}
	}
	return nil
}

// Copy asks the compositor to copy the frame into buf.
func (f *ScreencopyFrame) Copy(buf *Buffer) error {
	e := &encoder{}
	e.Object(buf.ID())
	return f.send(0, e)
}

// Destroy destroys the frame.
func (f *ScreencopyFrame) Destroy() error {
	return f.destroy(1)
}
