// Package broadcast is the extension entry point: it owns the socket
// connection and uploader for one broadcast session and maps capture
// lifecycle callbacks onto them.
package broadcast

import (
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/capture"
	"github.com/bryanchriswhite/ScreenRelay/internal/config"
	"github.com/bryanchriswhite/ScreenRelay/internal/guard"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/bryanchriswhite/ScreenRelay/internal/signal"
	"github.com/bryanchriswhite/ScreenRelay/internal/socket"
	"github.com/bryanchriswhite/ScreenRelay/internal/upload"
	"github.com/google/uuid"
	"golang.org/x/text/message"
)

// State of the broadcast session
type State int

const (
	StateIdle State = iota
	StateBroadcasting
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBroadcasting:
		return "broadcasting"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Notifier posts cross-process notifications
type Notifier interface {
	PostNotification(name string)
}

// Connection is the socket connection as the controller uses it
type Connection interface {
	Open() bool
	Close()
	OnClose(fn func(err error))
	Write(b []byte) error
	Pending() int
}

// Options are the controller settings taken from the extension config
type Options struct {
	RetryInterval   time.Duration
	RetryTolerance  time.Duration
	MaxPendingBytes int
	Locale          string
}

// OptionsFromConfig extracts controller options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RetryInterval:   cfg.Extension.RetryInterval,
		RetryTolerance:  cfg.Extension.RetryTolerance,
		MaxPendingBytes: cfg.Extension.MaxPendingBytes,
		Locale:          cfg.Locale,
	}
}

// Controller implements capture.Handler. Without a connection it runs
// degraded: every frame is dropped and nothing fails.
type Controller struct {
	opts    Options
	host    capture.Host
	signals Notifier
	printer *message.Printer

	conn     Connection
	uploader *upload.Uploader

	state     *guard.Value[State]
	frames    *guard.Value[uint64]
	sessionID *guard.Value[string]
	reconnect *guard.Value[*Reconnector]
}

// NewController derives the shared socket path from cfg and builds the
// session's connection. Any failure leaves the controller degraded.
func NewController(cfg *config.Config, host capture.Host, signals Notifier) *Controller {
	log := logger.WithComponent("broadcast")

	var conn Connection
	path, err := cfg.Container.SocketPath()
	if err != nil {
		log.Warn().Err(err).Msg("No shared container, frames will be dropped")
	} else {
		c, err := socket.NewConnection(path, socket.Options{
			DialTimeout:  cfg.Extension.DialTimeout,
			WriteTimeout: cfg.Extension.WriteTimeout,
		})
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Cannot create connection, frames will be dropped")
		} else {
			conn = c
		}
	}

	return newController(OptionsFromConfig(cfg), host, signals, conn)
}

func newController(opts Options, host capture.Host, signals Notifier, conn Connection) *Controller {
	c := &Controller{
		opts:      opts,
		host:      host,
		signals:   signals,
		printer:   newPrinter(opts.Locale),
		state:     guard.New(StateIdle),
		frames:    guard.New[uint64](0),
		sessionID: guard.New(""),
		reconnect: guard.New[*Reconnector](nil),
	}

	if conn != nil {
		c.conn = conn
		c.uploader = upload.New(conn, opts.MaxPendingBytes)
		conn.OnClose(c.connectionClosed)
	}
	return c
}

// Degraded reports whether the controller has no uploader
func (c *Controller) Degraded() bool {
	return c.uploader == nil
}

// State returns the session state
func (c *Controller) State() State {
	return c.state.Load()
}

// Stats returns the uploader counters, zero when degraded
func (c *Controller) Stats() upload.Stats {
	if c.uploader == nil {
		return upload.Stats{}
	}
	return c.uploader.Stats()
}

// BroadcastStarted resets the frame counter, announces the broadcast and
// starts connecting in the background
func (c *Controller) BroadcastStarted(setupInfo map[string]interface{}) {
	id := uuid.NewString()
	c.sessionID.Store(id)
	c.frames.Store(0)
	c.state.Store(StateBroadcasting)

	log := logger.WithComponent("broadcast")
	log.Info().
		Str("session", id).
		Interface("setup_info", setupInfo).
		Bool("degraded", c.Degraded()).
		Msg("Broadcast started")

	c.signals.PostNotification(signal.BroadcastStarted)

	if c.conn == nil {
		return
	}
	c.stopReconnect()
	c.reconnect.Store(StartReconnect(c.conn.Open, c.opts.RetryInterval, c.opts.RetryTolerance))
}

// BroadcastPaused is informational; the capture source stops delivering
func (c *Controller) BroadcastPaused() {
	c.state.Store(StatePaused)
	logger.WithComponent("broadcast").Info().Str("session", c.sessionID.Load()).Msg("Broadcast paused")
}

// BroadcastResumed is informational; the capture source resumes delivering
func (c *Controller) BroadcastResumed() {
	c.state.Store(StateBroadcasting)
	logger.WithComponent("broadcast").Info().Str("session", c.sessionID.Load()).Msg("Broadcast resumed")
}

// BroadcastFinished announces the end of the broadcast and closes the connection
func (c *Controller) BroadcastFinished() {
	c.state.Store(StateIdle)
	c.signals.PostNotification(signal.BroadcastStopped)
	c.stopReconnect()

	if c.conn != nil {
		c.conn.Close()
	}

	st := c.Stats()
	logger.WithComponent("broadcast").Info().
		Str("session", c.sessionID.Load()).
		Uint64("frames_seen", c.frames.Load()).
		Uint64("frames_sent", st.Sent).
		Uint64("dropped_lock", st.DroppedLock).
		Uint64("dropped_closed", st.DroppedClosed).
		Uint64("dropped_backlog", st.DroppedBacklog).
		Uint64("bytes_sent", st.BytesSent).
		Msg("Broadcast finished")
}

// ProcessSampleBuffer forwards every second video frame to the uploader.
// Other sample types are ignored.
func (c *Controller) ProcessSampleBuffer(sample capture.Sample, sampleType capture.SampleType) {
	if sampleType != capture.SampleTypeVideo {
		return
	}

	n := c.frames.Update(func(n uint64) uint64 { return n + 1 })
	if n%2 != 0 {
		return
	}
	if c.uploader == nil {
		return
	}
	c.uploader.Send(sample)
}

// connectionClosed ends the session: with the transport error when there
// is one, otherwise with the plain "screensharing stopped" reason
func (c *Controller) connectionClosed(err error) {
	c.stopReconnect()

	log := logger.WithComponent("broadcast")
	if c.state.Load() == StateIdle {
		log.Debug().AnErr("cause", err).Msg("Connection closed after broadcast finished")
		return
	}

	stop := stopError(c.printer, err)
	log.Warn().
		Str("session", c.sessionID.Load()).
		AnErr("cause", err).
		Str("reason", stop.Message).
		Msg("Connection closed, finishing broadcast")

	c.host.FinishBroadcastWithError(stop)
}

func (c *Controller) stopReconnect() {
	if r := c.reconnect.Load(); r != nil {
		r.Stop()
	}
}
