package process

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RunFunc runs one generation until ctx is cancelled or it fails.
type RunFunc[T any] func(ctx context.Context, cfg T) error

// Supervisor restarts a RunFunc whenever it is handed a new configuration.
type Supervisor[T any] struct {
	run         RunFunc[T]
	logger      *slog.Logger
	restartChan chan T // holds at most one pending configuration

	mu   sync.RWMutex
	cfg  T
	info Info
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor[T any](cfg T, run RunFunc[T], logger *slog.Logger) *Supervisor[T] {
	return &Supervisor[T]{
		run:         run,
		logger:      logger,
		restartChan: make(chan T, 1),
		cfg:         cfg,
		info:        Info{State: StateIdle},
	}
}

// Config returns the configuration of the current generation.
func (s *Supervisor[T]) Config() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Info returns a snapshot.
func (s *Supervisor[T]) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// RequestRestart queues cfg for the next generation. A pending request
// that has not been picked up yet is replaced, so the newest wins.
func (s *Supervisor[T]) RequestRestart(cfg T) {
	for {
		select {
		case s.restartChan <- cfg:
			s.logger.Info("Restart requested")
			return
		default:
		}
		select {
		case <-s.restartChan:
			s.logger.Debug("Replacing pending restart")
		default:
		}
	}
}

// Run blocks until ctx is cancelled, returning nil, or until a generation
// returns on its own, returning its error.
func (s *Supervisor[T]) Run(ctx context.Context) error {
	for {
		restart, err := s.runOnce(ctx)
		if !restart {
			return err
		}
	}
}

func (s *Supervisor[T]) runOnce(ctx context.Context) (bool, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.info.Generation++
	s.info.State = StateRunning
	s.info.StartedAt = time.Now()
	gen := s.info.Generation
	s.mu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.run(genCtx, cfg) }()

	s.logger.Debug("Generation started", "generation", gen)

	select {
	case <-ctx.Done():
		cancel()
		err := <-done
		s.finish(StateStopped, ignoreCanceled(err))
		s.logger.Info("Shutdown complete", "generation", gen)
		return false, ignoreCanceled(err)

	case next := <-s.restartChan:
		s.setState(StateRestarting)
		cancel()
		if err := ignoreCanceled(<-done); err != nil {
			// The old generation failed while stopping; the new config
			// still gets its chance.
			s.logger.Warn("Generation failed during restart", "generation", gen, "error", err)
		}
		s.mu.Lock()
		s.cfg = next
		s.info.RestartCount++
		s.mu.Unlock()
		s.logger.Info("Restarting", "generation", gen+1)
		return true, nil

	case err := <-done:
		if ctx.Err() != nil {
			s.finish(StateStopped, ignoreCanceled(err))
			return false, ignoreCanceled(err)
		}
		if err == nil {
			err = errors.New("generation exited unexpectedly")
		}
		s.finish(StateError, err)
		s.logger.Info("Generation exited", "generation", gen, "error", err)
		return false, err
	}
}

func (s *Supervisor[T]) setState(st State) {
	s.mu.Lock()
	s.info.State = st
	s.mu.Unlock()
}

func (s *Supervisor[T]) finish(st State, err error) {
	s.mu.Lock()
	s.info.State = st
	s.info.LastError = err
	s.mu.Unlock()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
