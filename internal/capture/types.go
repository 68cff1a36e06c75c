package capture

import (
	"context"
	"fmt"

	"github.com/smazurov/screenglow/internal/region"
)

// State represents where the session is in the capture cycle.
type State string

// Session states.
const (
	StateIdle          State = "idle"           // No outstanding request
	StateAwaitingOffer State = "awaiting_offer" // Request issued, collecting buffer offers
	StateAwaitingReady State = "awaiting_ready" // Buffer submitted as copy target
	StateExtracting    State = "extracting"     // Sampling the ready buffer
	StateError         State = "error"          // Terminal
)

// OfferKind is the buffer technology of an offer.
type OfferKind int

// Offer kinds.
const (
	OfferShm    OfferKind = iota // wl_shm pool; compositor dictates stride
	OfferDMABuf                  // linux-dmabuf; client allocates a linear buffer object
)

func (k OfferKind) String() string {
	switch k {
	case OfferShm:
		return "shm"
	case OfferDMABuf:
		return "dmabuf"
	default:
		return fmt.Sprintf("offer(%d)", int(k))
	}
}

// ParseOfferKind maps a config value to an OfferKind.
func ParseOfferKind(s string) (OfferKind, error) {
	switch s {
	case "shm":
		return OfferShm, nil
	case "dmabuf", "":
		return OfferDMABuf, nil
	default:
		return 0, fmt.Errorf("unknown buffer kind %q (want shm or dmabuf)", s)
	}
}

// PixelFormat is a DRM fourcc code.
type PixelFormat uint32

func fourcc(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Supported pixel formats.
var (
	FormatARGB8888 = fourcc('A', 'R', '2', '4')
	FormatXRGB8888 = fourcc('X', 'R', '2', '4')
	FormatABGR8888 = fourcc('A', 'B', '2', '4')
	FormatXBGR8888 = fourcc('X', 'B', '2', '4')
)

// Order returns the byte order of f in memory, or false if the format is
// not a supported 32-bit RGB layout.
func (f PixelFormat) Order() (region.ChannelOrder, bool) {
	switch f {
	case FormatARGB8888, FormatXRGB8888:
		return region.BGRA, true
	case FormatABGR8888, FormatXBGR8888:
		return region.RGBA, true
	default:
		return region.ChannelOrder{}, false
	}
}

func (f PixelFormat) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}

// Offer describes a buffer the compositor can copy a frame into.
type Offer struct {
	Kind   OfferKind
	Format PixelFormat
	Width  uint32
	Height uint32
	Stride uint32 // zero for dma-buf offers
}

// Flags describe the captured image.
type Flags uint32

// FlagYInvert marks a bottom-up image.
const FlagYInvert Flags = 1

// EventKind identifies a compositor event.
type EventKind int

// Event kinds.
const (
	EventOffer      EventKind = iota // one buffer offer
	EventOffersDone                  // all offers sent; client must copy now
	EventFlags                       // image flags
	EventReady                       // copy finished
	EventFailed                      // copy failed
	EventNone                        // bookkeeping only; nothing for the session
)

func (k EventKind) String() string {
	switch k {
	case EventOffer:
		return "offer"
	case EventOffersDone:
		return "offers_done"
	case EventFlags:
		return "flags"
	case EventReady:
		return "ready"
	case EventFailed:
		return "failed"
	case EventNone:
		return "none"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one compositor event addressed to a frame.
type Event struct {
	Kind  EventKind
	Frame uint64 // Frame.ID of the addressee
	Offer Offer
	Flags Flags
}

// BufferInfo describes an allocated buffer so the compositor adapter can
// wrap it in a protocol object.
type BufferInfo struct {
	Kind     OfferKind
	FD       int
	Offset   uint32
	Size     uint32
	Width    uint32
	Height   uint32
	Stride   uint32
	Format   PixelFormat
	Modifier uint64
}

// Buffer is an exclusively owned capture buffer.
type Buffer interface {
	Info() BufferInfo
	// Map returns the buffer contents. The slice is invalid after Release.
	Map() ([]byte, error)
	// Release unmaps the memory and closes the descriptor. Idempotent.
	Release() error
}

// Allocator creates buffers matching an offer.
type Allocator interface {
	Allocate(offer Offer) (Buffer, error)
}

// Attachment is the compositor-side object wrapping a Buffer (for example a
// wl_buffer plus its creation parameters).
type Attachment interface {
	Destroy() error
}

// Frame is one in-flight capture request.
type Frame interface {
	// ID is unique for the lifetime of the compositor connection.
	ID() uint64
	// Copy wraps buf in a protocol object and asks the compositor to copy
	// the frame into it.
	Copy(buf Buffer) (Attachment, error)
	Destroy() error
}

// Compositor is the capture protocol as the session sees it.
type Compositor interface {
	// RequestFrame asks for a capture of the bound output.
	RequestFrame() (Frame, error)
	// Dispatch blocks until one event is available and returns it.
	Dispatch(ctx context.Context) (Event, error)
}
