package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/guard"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
)

// Grabber produces one frame per call
type Grabber interface {
	Grab() (*BGRABuffer, error)
	Name() string
	Close() error
}

// Session drives a Handler from a Grabber at a fixed frame rate. It plays
// the role of the platform capture service and implements Host.
type Session struct {
	grabber  Grabber
	handler  Handler
	interval time.Duration

	paused    *guard.Value[bool]
	finishErr *guard.Value[error]
	cancel    *guard.Value[context.CancelFunc]
}

// NewSession creates a session delivering fps frames per second
func NewSession(grabber Grabber, fps int) *Session {
	if fps <= 0 {
		fps = 30
	}
	return &Session{
		grabber:   grabber,
		interval:  time.Second / time.Duration(fps),
		paused:    guard.New(false),
		finishErr: guard.New[error](nil),
		cancel:    guard.New[context.CancelFunc](nil),
	}
}

// SetHandler attaches the handler; it must be called before Run
func (s *Session) SetHandler(h Handler) {
	s.handler = h
}

// Pause stops sample delivery until Resume
func (s *Session) Pause() {
	if s.paused.Load() {
		return
	}
	s.paused.Store(true)
	s.handler.BroadcastPaused()
}

// Resume restarts sample delivery
func (s *Session) Resume() {
	if !s.paused.Load() {
		return
	}
	s.paused.Store(false)
	s.handler.BroadcastResumed()
}

// FinishBroadcastWithError ends the running session; Run returns err
func (s *Session) FinishBroadcastWithError(err error) {
	s.finishErr.Update(func(prev error) error {
		if prev != nil {
			return prev
		}
		return err
	})
	if cancel := s.cancel.Load(); cancel != nil {
		cancel()
	}
}

// Run delivers frames until ctx is done or the handler finishes the
// broadcast. It returns the error passed to FinishBroadcastWithError, if any.
func (s *Session) Run(ctx context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("capture: session has no handler")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel.Store(cancel)
	if s.finishErr.Load() != nil {
		cancel()
	}

	log := logger.WithComponent("capture")
	log.Info().
		Str("source", s.grabber.Name()).
		Dur("interval", s.interval).
		Msg("Broadcast session starting")

	s.handler.BroadcastStarted(map[string]interface{}{
		"source": s.grabber.Name(),
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	delivered := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			if s.paused.Load() {
				continue
			}
			buf, err := s.grabber.Grab()
			if err != nil {
				log.Warn().Err(err).Msg("Frame grab failed")
				continue
			}
			s.handler.ProcessSampleBuffer(Sample{Pixels: buf, Timestamp: now}, SampleTypeVideo)
			// The buffer goes back to the source once the callback returns
			buf.Invalidate()
			delivered++
		}
	}

	s.handler.BroadcastFinished()

	err := s.finishErr.Load()
	log.Info().
		Int("frames_delivered", delivered).
		AnErr("reason", err).
		Msg("Broadcast session finished")
	return err
}
