// Package pipeline runs the control loop: pull colors from a source,
// encode them as an Adalight packet and write it to the serial transport.
//
// The loop is serial. Each cycle blocks on the source and then on the
// write; nothing is buffered between cycles.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smazurov/screenglow/internal/adalight"
	"github.com/smazurov/screenglow/internal/fault"
	"github.com/smazurov/screenglow/internal/logging"
	"github.com/smazurov/screenglow/internal/source"
)

// State of the loop.
type State string

// Loop states.
const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped" // context cancelled
	StateError        State = "error"   // fatal error
)

// Opener opens (or reopens) the transport.
type Opener func(ctx context.Context) (io.WriteCloser, error)

// Observer receives loop notifications. Calls happen on the loop goroutine
// and must not block.
type Observer interface {
	StateChanged(oldState, newState State, err error)
	FrameSent(bytes int, took time.Duration)
	Reconnected(attempt int, err error)
}

// Stats is a snapshot of loop counters.
type Stats struct {
	State        State     `json:"state"`
	Frames       uint64    `json:"frames"`
	BytesWritten uint64    `json:"bytes_written"`
	Reconnects   uint64    `json:"reconnects"`
	Lights       int       `json:"lights"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	LastFrameAt  time.Time `json:"last_frame_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithRateLimit caps the loop at fps packets per second. Zero or negative
// leaves it uncapped.
func WithRateLimit(fps float64) Option {
	return func(l *Loop) {
		if fps > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(fps), 1)
		}
	}
}

// WithReconnect reopens the transport up to attempts times after a failed
// write before giving up.
func WithReconnect(open Opener, attempts int) Option {
	return func(l *Loop) {
		l.opener = open
		l.attempts = attempts
	}
}

// WithReconnectDelay sets the pause before the first reconnect attempt.
// It doubles each attempt up to five seconds.
func WithReconnectDelay(d time.Duration) Option {
	return func(l *Loop) {
		l.delay = d
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

const maxReconnectDelay = 5 * time.Second

// Loop drives source -> encoder -> transport.
type Loop struct {
	src       source.Source
	enc       *adalight.Encoder
	w         io.Writer
	opener    Opener
	attempts  int
	delay     time.Duration
	limiter   *rate.Limiter
	observers []Observer
	logger    *slog.Logger

	mu    sync.RWMutex
	stats Stats
}

// New creates a loop writing to w, which the loop owns from now on.
func New(src source.Source, enc *adalight.Encoder, w io.Writer, opts ...Option) *Loop {
	l := &Loop{
		src:    src,
		enc:    enc,
		w:      w,
		delay:  250 * time.Millisecond,
		logger: logging.GetLogger("pipeline"),
		stats:  Stats{State: StateIdle, Lights: enc.Lights()},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run loops until ctx is cancelled, returning ctx.Err(), or until a fatal
// error, which is returned as a *fault.Error.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.stats.StartedAt = time.Now()
	l.mu.Unlock()
	l.setState(StateRunning, nil)

	l.logger.Info("Pipeline started", "lights", l.enc.Lights(), "packet_bytes", l.enc.Size(), "source", source.Describe(l.src))

	packet := make([]byte, 0, l.enc.Size())
	for {
		if err := ctx.Err(); err != nil {
			return l.stop(err)
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return l.stop(ctx.Err())
			}
		}

		start := time.Now()
		buf, err := l.src.NextColors(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.stop(ctx.Err())
			}
			if !fault.IsFatal(err) {
				l.logger.Warn("Source reported recoverable error", "error", err)
				continue
			}
			return l.failWith(err)
		}

		p, err := l.enc.EncodeTo(packet, buf)
		if err != nil {
			return l.failWith(err)
		}
		packet = p

		if err := l.write(ctx, p); err != nil {
			if ctx.Err() != nil {
				return l.stop(ctx.Err())
			}
			return l.failWith(err)
		}

		took := time.Since(start)
		l.mu.Lock()
		l.stats.Frames++
		l.stats.BytesWritten += uint64(len(p))
		l.stats.LastFrameAt = time.Now()
		l.mu.Unlock()
		for _, o := range l.observers {
			o.FrameSent(len(p), took)
		}
	}
}

// Stats returns a snapshot. Safe to call from any goroutine.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Close closes the transport if it is an io.Closer.
func (l *Loop) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// write sends the whole packet, reconnecting on failure when configured.
func (l *Loop) write(ctx context.Context, p []byte) error {
	err := writeFull(l.w, p)
	if err == nil {
		return nil
	}
	werr := fault.Wrap(fault.CodeTransportError, "write packet", err)
	if l.opener == nil || l.attempts <= 0 {
		return werr
	}

	l.setState(StateReconnecting, werr)
	delay := l.delay
	for attempt := 1; attempt <= l.attempts; attempt++ {
		l.logger.Warn("Transport write failed, reconnecting", "error", err, "attempt", attempt, "max_attempts", l.attempts)
		if c, ok := l.w.(io.Closer); ok {
			_ = c.Close()
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, maxReconnectDelay)

		w, oerr := l.opener(ctx)
		if oerr != nil {
			err = oerr
			l.notifyReconnect(attempt, oerr)
			continue
		}
		l.w = w
		if err = writeFull(w, p); err != nil {
			l.notifyReconnect(attempt, err)
			continue
		}

		l.notifyReconnect(attempt, nil)
		l.logger.Info("Transport reconnected", "attempt", attempt)
		l.setState(StateRunning, nil)
		return nil
	}
	return fault.Wrap(fault.CodeTransportError, "transport lost after reconnect attempts", err)
}

func (l *Loop) notifyReconnect(attempt int, err error) {
	if err == nil {
		l.mu.Lock()
		l.stats.Reconnects++
		l.mu.Unlock()
	}
	for _, o := range l.observers {
		o.Reconnected(attempt, err)
	}
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Loop) stop(err error) error {
	l.setState(StateStopped, nil)
	l.logger.Info("Pipeline stopped", "frames", l.Stats().Frames)
	return err
}

func (l *Loop) failWith(err error) error {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		err = fault.Wrap(fault.CodeProtocolError, "pipeline", err)
	}
	l.setState(StateError, err)
	l.logger.Error("Pipeline failed", "error", err, "code", string(fault.CodeOf(err)))
	return err
}

func (l *Loop) setState(s State, err error) {
	l.mu.Lock()
	old := l.stats.State
	l.stats.State = s
	if err != nil {
		l.stats.LastError = err.Error()
	}
	l.mu.Unlock()
	if old == s {
		return
	}
	for _, o := range l.observers {
		o.StateChanged(old, s, err)
	}
}
