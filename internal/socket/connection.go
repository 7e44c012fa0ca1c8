// Package socket is the client side of the extension-to-host local socket.
package socket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
)

// maxPathLen is the sun_path limit on Linux, less the terminating NUL
const maxPathLen = 107

var (
	ErrNotOpen   = errors.New("socket: connection not open")
	ErrEmptyPath = errors.New("socket: empty path")
)

// State is the connection lifecycle state
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options tunes dialing and flushing
type Options struct {
	// DialTimeout bounds a single Open attempt
	DialTimeout time.Duration
	// WriteTimeout is how long one flush may block before the remaining
	// bytes are treated as deferred by backpressure
	WriteTimeout time.Duration
}

// DefaultOptions returns the options used by the extension
func DefaultOptions() Options {
	return Options{
		DialTimeout:  250 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
	}
}

// Connection is one client endpoint on a local socket path.
//
// Writes never block on the peer: bytes go to an ordered outbox that a
// writer goroutine flushes. The close callback fires exactly once, with nil
// for a requested close or peer hang-up and the transport error otherwise.
type Connection struct {
	path string
	opts Options

	mu      sync.Mutex
	state   State
	conn    net.Conn
	outbox  [][]byte
	pending int
	onClose func(error)

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection validates path and returns an unopened connection
func NewConnection(path string, opts Options) (*Connection, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if len(path) > maxPathLen {
		return nil, fmt.Errorf("socket: path too long (%d > %d bytes): %s", len(path), maxPathLen, path)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultOptions().DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}

	return &Connection{
		path: path,
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}, nil
}

// Path returns the socket path
func (c *Connection) Path() string {
	return c.path
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnClose sets the close callback, replacing any previous one
func (c *Connection) OnClose(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Open makes one connection attempt. It returns true once connected and
// stays true on later calls; a closed connection never reopens.
func (c *Connection) Open() bool {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return true
	case StateClosed:
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	log := logger.WithComponent("socket")

	conn, err := net.DialTimeout("unix", c.path, c.opts.DialTimeout)
	if err != nil {
		log.Debug().Err(err).Str("path", c.path).Msg("Connection attempt failed")
		return false
	}

	c.mu.Lock()
	if c.state != StateUnopened {
		// Closed, or opened by a concurrent attempt
		open := c.state == StateOpen
		c.mu.Unlock()
		conn.Close()
		return open
	}
	c.state = StateOpen
	c.conn = conn
	// Counted before unlocking so a concurrent Close waits for both loops
	c.wg.Add(2)
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	log.Info().Str("path", c.path).Msg("Connected to host")
	return true
}

// Write queues b for transmission and takes ownership of it
func (c *Connection) Write(b []byte) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if len(b) > 0 {
		c.outbox = append(c.outbox, b)
		c.pending += len(b)
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of queued bytes not yet accepted by the peer
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Close terminates the connection and fires the close callback with nil
func (c *Connection) Close() {
	c.shutdown(nil)
	c.wg.Wait()
}

// Done is closed once the connection has closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		conn := c.conn
		dropped := c.pending
		c.outbox = nil
		c.pending = 0
		cb := c.onClose
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		close(c.done)

		log := logger.WithComponent("socket")
		if cause != nil {
			log.Warn().Err(cause).Str("path", c.path).Int("dropped_bytes", dropped).Msg("Connection closed by transport error")
		} else {
			log.Info().Str("path", c.path).Int("dropped_bytes", dropped).Msg("Connection closed")
		}

		if cb != nil {
			go cb(cause)
		}
	})
}

// next returns the head of the outbox, or nil when it is empty
func (c *Connection) next() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbox) == 0 {
		return nil
	}
	return c.outbox[0]
}

// consume drops n flushed bytes from the head of the outbox
func (c *Connection) consume(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || len(c.outbox) == 0 {
		return
	}
	head := c.outbox[0]
	if n >= len(head) {
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
	} else {
		c.outbox[0] = head[n:]
	}
	c.pending -= n
}

func (c *Connection) writeLoop(conn net.Conn) {
	defer c.wg.Done()
	log := logger.WithComponent("socket")

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for chunk := c.next(); chunk != nil; chunk = c.next() {
			select {
			case <-c.done:
				return
			default:
			}

			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			n, err := conn.Write(chunk)
			c.consume(n)
			if err == nil {
				continue
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				// Peer buffer full; keep the remainder queued and retry
				log.Trace().Int("pending", c.Pending()).Msg("Write deferred by backpressure")
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.shutdown(fmt.Errorf("socket write: %w", err))
			return
		}
	}
}

// readLoop watches for the peer going away. The host never sends data the
// extension needs, so anything read is discarded.
func (c *Connection) readLoop(conn net.Conn) {
	defer c.wg.Done()

	buf := make([]byte, 512)
	for {
		_, err := conn.Read(buf)
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, net.ErrClosed):
		case errors.Is(err, io.EOF):
			c.shutdown(nil)
		default:
			c.shutdown(fmt.Errorf("socket read: %w", err))
		}
		return
	}
}
