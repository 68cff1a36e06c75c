// Package capture drives one compositor screen capture at a time and turns
// each captured frame into a color buffer.
//
// A Session walks the cycle
//
//	idle -> awaiting_offer -> awaiting_ready -> extracting -> idle
//
// stepping once per compositor event. It owns at most one capture buffer;
// a new request is only issued after the previous buffer was sampled and
// released. A compositor-reported failure is retried up to MaxRetries
// consecutive times before the session gives up with CAPTURE_UNAVAILABLE.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smazurov/screenglow/internal/colors"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/logging"
	"github.com/smazurov/screenglow/internal/region"
)

// DefaultMaxRetries is the number of consecutive capture failures tolerated.
const DefaultMaxRetries = 5

// ErrClosed is returned by NextColors after Close.
var ErrClosed = errors.New("capture session closed")

// Options configures a Session.
type Options struct {
	Regions []region.Region
	Sampler region.Sampler // nil means region.PointSampler

	// Allocators maps each supported offer kind to its allocator. Offers of
	// other kinds are ignored.
	Allocators map[OfferKind]Allocator
	Prefer     OfferKind

	// MaxRetries bounds consecutive CaptureFailed events. Zero selects
	// DefaultMaxRetries; negative disables retrying.
	MaxRetries int

	Logger *slog.Logger

	// OnFailure is called for each recoverable capture failure.
	OnFailure func(err error, consecutive int)
	// OnGeometry is called when the captured size differs from the previous frame.
	OnGeometry func(width, height uint32)
}

// pending is the single in-flight copy target.
type pending struct {
	offer      Offer
	buffer     Buffer
	attachment Attachment
}

// Session is the capture state machine. It is not safe for concurrent use.
type Session struct {
	compositor Compositor
	regions    []region.Region
	sampler    region.Sampler
	allocators map[OfferKind]Allocator
	prefer     OfferKind
	maxRetries int
	logger     *slog.Logger
	onFailure  func(error, int)
	onGeometry func(uint32, uint32)

	state    State
	frame    Frame
	lastID   uint64
	offers   []Offer
	flags    Flags
	slot     *pending
	latest   colors.Buffer
	failures int
	width    uint32
	height   uint32
	err      error
	closed   bool

	// failed holds kinds whose allocation or copy failed; they are tried
	// after every other usable offer until one of them delivers a frame.
	failed map[OfferKind]bool
}

// NewSession creates an idle session. No request is issued until the first
// NextColors call.
func NewSession(compositor Compositor, opts Options) (*Session, error) {
	if compositor == nil {
		return nil, errors.New("capture: nil compositor")
	}
	if len(opts.Regions) == 0 {
		return nil, fault.New(fault.CodeConfigInvalid, "at least one region is required")
	}
	if err := region.CheckShape(opts.Regions); err != nil {
		return nil, err
	}
	if len(opts.Allocators) == 0 {
		return nil, fault.New(fault.CodeConfigInvalid, "no buffer allocator configured")
	}

	s := &Session{
		compositor: compositor,
		regions:    opts.Regions,
		sampler:    opts.Sampler,
		allocators: opts.Allocators,
		prefer:     opts.Prefer,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
		onFailure:  opts.OnFailure,
		onGeometry: opts.OnGeometry,
		state:      StateIdle,
		failed:     make(map[OfferKind]bool),
	}
	if s.sampler == nil {
		s.sampler = region.PointSampler{}
	}
	if s.maxRetries == 0 {
		s.maxRetries = DefaultMaxRetries
	} else if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.logger == nil {
		s.logger = logging.GetLogger("capture")
	}
	return s, nil
}

// NextColors issues a capture request if none is outstanding, processes one
// compositor event (blocking), issues the next request if that event
// completed a cycle, and returns a copy of the most recent colors. Before
// the first frame completes it returns an all-zero buffer.
//
// Recoverable capture failures are absorbed. Any returned error other than
// a context error is terminal for the session.
func (s *Session) NextColors(ctx context.Context) (colors.Buffer, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.state == StateError {
		return nil, s.err
	}

	if s.state == StateIdle {
		if err := s.request(); err != nil {
			return nil, s.fail(err)
		}
	}

	ev, err := s.compositor.Dispatch(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, s.fail(fault.Wrap(fault.CodeProtocolError, "dispatch compositor events", err))
	}
	if err := s.handle(ev); err != nil {
		return nil, s.fail(err)
	}

	if s.state == StateIdle {
		if err := s.request(); err != nil {
			return nil, s.fail(err)
		}
	}
	return s.snapshot(), nil
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Outstanding returns the number of capture buffers held (0 or 1).
func (s *Session) Outstanding() int {
	if s.slot != nil {
		return 1
	}
	return 0
}

// Close releases the in-flight request and buffer. Further NextColors calls
// return ErrClosed.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.releaseAll()
}

func (s *Session) snapshot() colors.Buffer {
	if s.latest == nil {
		return colors.NewBuffer(len(s.regions))
	}
	return s.latest.Clone()
}

// request moves idle -> awaiting_offer.
func (s *Session) request() error {
	f, err := s.compositor.RequestFrame()
	if err != nil {
		return fault.Wrap(fault.CodeProtocolError, "request capture", err)
	}
	if f.ID() <= s.lastID {
		_ = f.Destroy()
		return fault.Newf(fault.CodeProtocolError, "frame id %d not after %d", f.ID(), s.lastID)
	}
	s.lastID = f.ID()
	s.frame = f
	s.offers = s.offers[:0]
	s.flags = 0
	s.state = StateAwaitingOffer
	return nil
}

func (s *Session) handle(ev Event) error {
	if ev.Kind == EventNone {
		return nil
	}
	if s.frame == nil || ev.Frame != s.frame.ID() {
		s.logger.Debug("Ignoring stale capture event", "event", ev.Kind.String(), "frame", ev.Frame)
		return nil
	}

	switch s.state {
	case StateAwaitingOffer:
		switch ev.Kind {
		case EventOffer:
			s.offers = append(s.offers, ev.Offer)
		case EventFlags:
			s.flags = ev.Flags
		case EventOffersDone:
			return s.submit()
		case EventFailed:
			return s.captureFailed(fault.New(fault.CodeCaptureFailed, "compositor failed capture before copy"))
		case EventReady:
			return fault.Newf(fault.CodeProtocolError, "frame %d ready before a buffer was submitted", ev.Frame)
		}
	case StateAwaitingReady:
		switch ev.Kind {
		case EventFlags:
			s.flags = ev.Flags
		case EventReady:
			return s.extract()
		case EventFailed:
			err := fault.New(fault.CodeCaptureFailed, "compositor failed to copy frame")
			if s.slot != nil {
				s.demote(s.slot.offer.Kind, err)
			}
			return s.captureFailed(err)
		default:
			s.logger.Debug("Ignoring event while awaiting copy", "event", ev.Kind.String())
		}
	}
	return nil
}

// candidates orders the usable offers: the preferred kind, then the other
// kinds with an allocator, with previously failed kinds moved last. Offers
// with unsupported pixel formats are skipped.
func (s *Session) candidates() []Offer {
	var ok, demoted []Offer
	add := func(preferred bool) {
		for _, o := range s.offers {
			if _, known := o.Format.Order(); !known {
				continue
			}
			if _, has := s.allocators[o.Kind]; !has || (o.Kind == s.prefer) != preferred {
				continue
			}
			if s.failed[o.Kind] {
				demoted = append(demoted, o)
			} else {
				ok = append(ok, o)
			}
		}
	}
	add(true)
	add(false)
	return append(ok, demoted...)
}

// demote records a failure of kind so later requests try other offers first.
func (s *Session) demote(kind OfferKind, cause error) {
	if s.failed[kind] {
		return
	}
	s.failed[kind] = true
	s.logger.Warn("Buffer type failed, preferring other offers", "buffer", kind.String(), "error", cause)
}

// submit moves awaiting_offer -> awaiting_ready. Candidates are tried in
// order until one allocates.
func (s *Session) submit() error {
	candidates := s.candidates()
	if len(candidates) == 0 {
		return s.captureFailed(fault.Newf(fault.CodeCaptureFailed, "no usable buffer among %d offers", len(s.offers)))
	}

	var allocErr error
	for _, offer := range candidates {
		if offer.Width != s.width || offer.Height != s.height {
			if err := region.Validate(s.regions, offer.Width, offer.Height); err != nil {
				return err
			}
			s.logger.Info("Capture geometry", "width", offer.Width, "height", offer.Height,
				"format", offer.Format.String(), "buffer", offer.Kind.String())
			s.width, s.height = offer.Width, offer.Height
			if s.onGeometry != nil {
				s.onGeometry(offer.Width, offer.Height)
			}
		}

		buf, err := s.allocators[offer.Kind].Allocate(offer)
		if err != nil {
			allocErr = fault.Wrap(fault.CodeCaptureFailed, "allocate "+offer.Kind.String()+" buffer", err)
			s.demote(offer.Kind, allocErr)
			continue
		}
		att, err := s.frame.Copy(buf)
		if err != nil {
			if rerr := buf.Release(); rerr != nil {
				s.logger.Warn("Failed to release buffer", "error", rerr)
			}
			return fault.Wrap(fault.CodeProtocolError, "submit copy target", err)
		}

		s.slot = &pending{offer: offer, buffer: buf, attachment: att}
		s.state = StateAwaitingReady
		return nil
	}
	return s.captureFailed(allocErr)
}

// extract runs awaiting_ready -> extracting -> idle.
func (s *Session) extract() error {
	p := s.slot
	s.state = StateExtracting

	out, sampleErr := s.sample(p)
	// Resources go back whether or not sampling succeeded.
	if err := s.releaseAll(); err != nil {
		s.logger.Warn("Failed to release capture resources", "error", err)
	}
	if sampleErr != nil {
		return sampleErr
	}

	s.latest = out
	s.failures = 0
	delete(s.failed, p.offer.Kind)
	s.state = StateIdle
	return nil
}

func (s *Session) sample(p *pending) (colors.Buffer, error) {
	data, err := p.buffer.Map()
	if err != nil {
		return nil, fault.Wrap(fault.CodeCaptureUnavailable, "map capture buffer", err)
	}
	order, _ := p.offer.Format.Order()
	info := p.buffer.Info()
	stride := info.Stride
	if stride == 0 {
		stride = p.offer.Stride
	}
	return s.sampler.Sample(region.Frame{
		Data:    data,
		Width:   p.offer.Width,
		Height:  p.offer.Height,
		Stride:  stride,
		Order:   order,
		YInvert: s.flags&FlagYInvert != 0,
	}, s.regions)
}

// captureFailed releases the request and decides between retry and giving up.
func (s *Session) captureFailed(cause error) error {
	if err := s.releaseAll(); err != nil {
		s.logger.Warn("Failed to release capture resources", "error", err)
	}
	s.failures++
	if s.onFailure != nil {
		s.onFailure(cause, s.failures)
	}
	if s.failures > s.maxRetries {
		return fault.Wrap(fault.CodeCaptureUnavailable,
			fmt.Sprintf("capture failed %d consecutive times", s.failures), cause)
	}
	s.logger.Warn("Capture failed, retrying", "error", cause, "attempt", s.failures, "max_retries", s.maxRetries)
	s.state = StateIdle
	return nil
}

// fail enters the terminal state.
func (s *Session) fail(err error) error {
	if rerr := s.releaseAll(); rerr != nil {
		s.logger.Warn("Failed to release capture resources", "error", rerr)
	}
	s.state = StateError
	s.err = err
	return err
}

// releaseAll destroys the copy target, buffer and frame in that order.
func (s *Session) releaseAll() error {
	var errs []error
	if p := s.slot; p != nil {
		s.slot = nil
		if p.attachment != nil {
			if err := p.attachment.Destroy(); err != nil {
				errs = append(errs, fmt.Errorf("destroy attachment: %w", err))
			}
		}
		if err := p.buffer.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release buffer: %w", err))
		}
	}
	if f := s.frame; f != nil {
		s.frame = nil
		if err := f.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("destroy frame %d: %w", f.ID(), err))
		}
	}
	return errors.Join(errs...)
}
