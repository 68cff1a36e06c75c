//go:build linux

package wayland

// wl_shm formats. Every other value equals the DRM fourcc code.
const (
	ShmFormatARGB8888 uint32 = 0
	ShmFormatXRGB8888 uint32 = 1
)

// ShmFormatFourcc converts a wl_shm format to its DRM fourcc code.
func ShmFormatFourcc(f uint32) uint32 {
	switch f {
	case ShmFormatARGB8888:
		return 0x34325241 // AR24
	case ShmFormatXRGB8888:
		return 0x34325258 // XR24
	default:
		return f
	}
}

// FourccShmFormat is the inverse of ShmFormatFourcc.
func FourccShmFormat(fourcc uint32) uint32 {
	switch fourcc {
	case 0x34325241:
		return ShmFormatARGB8888
	case 0x34325258:
		return ShmFormatXRGB8888
	default:
		return fourcc
	}
}

// BindShm binds wl_shm.
func (r *Registry) BindShm(g Global) (*Shm, error) {
	s := &Shm{}
	if err := r.bind(g, 1, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Shm is wl_shm.
type Shm struct {
	proxy
	Formats []uint32
}

func (s *Shm) dispatch(opcode uint16, dec *decoder) error {
	if opcode == 0 { // format
		s.Formats = append(s.Formats, dec.Uint())
	}
	return nil
}

// CreatePool shares size bytes of fd with the compositor. The descriptor
// stays owned by the caller.
func (s *Shm) CreatePool(fd int, size int32) (*ShmPool, error) {
	p := &ShmPool{}
	e := &encoder{}
	e.Object(s.conn.register(p, "wl_shm_pool", 1))
	e.FD(fd)
	e.Int(size)
	if err := s.send(0, e); err != nil {
		return nil, err
	}
	return p, nil
}

// ShmPool is wl_shm_pool.
type ShmPool struct {
	proxy
}

func (p *ShmPool) dispatch(uint16, *decoder) error { return nil }

// CreateBuffer creates a buffer from a region of the pool.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32, format uint32) (*Buffer, error) {
	b := &Buffer{}
	e := &encoder{}
	e.Object(p.conn.register(b, "wl_buffer", 1))
	e.Int(offset)
	e.Int(width)
	e.Int(height)
	e.Int(stride)
	e.Uint(format)
	if err := p.send(0, e); err != nil {
		return nil, err
	}
	return b, nil
}

// Destroy destroys the pool. Buffers created from it stay valid.
func (p *ShmPool) Destroy() error {
	return p.destroy(1)
}

// Buffer is wl_buffer.
type Buffer struct {
	proxy

	// OnRelease is called when the compositor no longer reads the buffer.
	OnRelease func()
}

func (b *Buffer) dispatch(opcode uint16, _ *decoder) error {
	if opcode == 0 && b.OnRelease != nil { // release
		b.OnRelease()
	}
	return nil
}

// Destroy destroys the buffer.
func (b *Buffer) Destroy() error {
	return b.destroy(0)
}
