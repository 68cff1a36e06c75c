//go:build linux

package wayland

// DRM format modifiers.
const (
	ModifierLinear  uint64 = 0
	ModifierInvalid uint64 = 0x00ffffffffffffff
)

// BindLinuxDmabuf binds zwp_linux_dmabuf_v1 at up to version 3.
func (r *Registry) BindLinuxDmabuf(g Global) (*LinuxDmabuf, error) {
	d := &LinuxDmabuf{Modifiers: make(map[uint32][]uint64)}
	if err := r.bind(g, 3, d); err != nil {
		return nil, err
	}
	return d, nil
}

// LinuxDmabuf is zwp_linux_dmabuf_v1.
type LinuxDmabuf struct {
	proxy
	// Modifiers lists the modifiers announced per fourcc format.
	Modifiers map[uint32][]uint64
}

func (d *LinuxDmabuf) dispatch(opcode uint16, dec *decoder) error {
	switch opcode {
	case 0: // format
		f := dec.Uint()
		if _, ok := d.Modifiers[f]; !ok {
			d.Modifiers[f] = nil
		}
	case 1: // modifier
		f := dec.Uint()
		hi, lo := dec.Uint(), dec.Uint()
		d.Modifiers[f] = append(d.Modifiers[f], uint64(hi)<<32|uint64(lo))
	}
	return nil
}

// CreateParams starts building a dma-buf backed wl_buffer.
func (d *LinuxDmabuf) CreateParams() (*BufferParams, error) {
	p := &BufferParams{}
	e := &encoder{}
	e.Object(d.conn.register(p, "zwp_linux_buffer_params_v1", d.version))
	if err := d.send(1, e); err != nil {
		return nil, err
	}
	return p, nil
}

// Destroy destroys the global binding.
func (d *LinuxDmabuf) Destroy() error {
	return d.destroy(0)
}

// BufferParams is zwp_linux_buffer_params_v1.
type BufferParams struct {
	proxy

	// OnFailed is called when the compositor rejects the buffer.
	OnFailed func()
}

func (p *BufferParams) dispatch(opcode uint16, dec *decoder) error {
	switch opcode {
	case 0: // created, only sent for non-immediate creation
		_ = dec.Object()
	case 1: // failed
		if p.OnFailed != nil {
			p.OnFailed()
		}
	}
	return nil
}

// Add adds one plane. The descriptor stays owned by the caller.
func (p *BufferParams) Add(fd int, plane, offset, stride uint32, modifier uint64) error {
	e := &encoder{}
	e.FD(fd)
	e.Uint(plane)
	e.Uint(offset)
	e.Uint(stride)
	e.Uint(uint32(modifier >> 32))
	e.Uint(uint32(modifier))
	return p.send(1, e)
}

// CreateImmed creates the wl_buffer without waiting for the compositor to
// validate it. Rejection arrives as OnFailed or a protocol error.
func (p *BufferParams) CreateImmed(width, height int32, format, flags uint32) (*Buffer, error) {
	b := &Buffer{}
	e := &encoder{}
	e.Object(p.conn.register(b, "wl_buffer", 1))
	e.Int(width)
	e.Int(height)
	e.Uint(format)
	e.Uint(flags)
	if err := p.send(3, e); err != nil {
		return nil, err
	}
	return b, nil
}

// Destroy destroys the params object. The created buffer stays valid.
func (p *BufferParams) Destroy() error {
	return p.destroy(0)
}
