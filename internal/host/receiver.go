package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/bryanchriswhite/ScreenRelay/internal/output"
	"github.com/bryanchriswhite/ScreenRelay/internal/overlay"
	"github.com/bryanchriswhite/ScreenRelay/internal/protocol"
	"github.com/bryanchriswhite/ScreenRelay/internal/signal"
	"github.com/bryanchriswhite/ScreenRelay/internal/socket"
)

// ErrBadFrame is returned for video payloads that don't match their header
var ErrBadFrame = errors.New("payload size does not match frame dimensions")

const (
	bannerStopped = "Broadcast stopped"
	bannerWaiting = "Waiting for broadcast"

	placeholderWidth  = 640
	placeholderHeight = 360
)

// immediateWriter is implemented by outputs that can bypass their frame cap
type immediateWriter interface {
	WriteFrameNow(frame *image.RGBA) error
}

// Receiver accepts the extension's socket connection, decodes framed records
// and hands video frames to an output
type Receiver struct {
	path string
	out  output.Output

	mu        sync.Mutex
	status    Status
	lastFrame *image.RGBA
	listeners []chan Status
}

// NewReceiver creates a receiver that will listen on path
func NewReceiver(path string, out output.Output) *Receiver {
	return &Receiver{
		path:   path,
		out:    out,
		status: Status{SocketPath: path},
	}
}

// Status returns a snapshot of the receiver state
func (r *Receiver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Observe registers for the broadcast lifecycle signals
func (r *Receiver) Observe(ch *signal.Channel) {
	ch.AddObserver(signal.BroadcastStarted, func() { r.SetBroadcasting(true) })
	ch.AddObserver(signal.BroadcastStopped, func() { r.SetBroadcasting(false) })
}

// Forget removes the observers added by Observe
func (r *Receiver) Forget(ch *signal.Channel) {
	ch.RemoveObserver(signal.BroadcastStarted)
	ch.RemoveObserver(signal.BroadcastStopped)
}

// SetBroadcasting records a lifecycle transition. Stopping re-publishes the
// last frame with a banner so preview viewers see why the picture froze.
func (r *Receiver) SetBroadcasting(on bool) {
	r.mu.Lock()
	if r.status.Broadcasting == on {
		r.mu.Unlock()
		return
	}
	r.status.Broadcasting = on
	r.status.Since = time.Now()
	last := r.lastFrame
	r.notifyLocked()
	r.mu.Unlock()

	log := logger.WithComponent("host")
	if on {
		log.Info().Msg("Broadcast started")
		return
	}
	log.Info().Msg("Broadcast stopped")
	if last != nil {
		r.publishBanner(overlay.NewBanner(bannerStopped).Stamped(last))
	} else {
		r.publishBanner(overlay.NewBanner(bannerStopped).Placeholder(placeholderWidth, placeholderHeight))
	}
}

func (r *Receiver) publishBanner(img *image.RGBA) {
	if r.out == nil || !r.out.IsRunning() {
		return
	}
	var err error
	if iw, ok := r.out.(immediateWriter); ok {
		err = iw.WriteFrameNow(img)
	} else {
		err = r.out.WriteFrame(img)
	}
	if err != nil {
		logger.WithComponent("host").Warn().Err(err).Msg("Failed to publish banner frame")
	}
}

// Serve listens on the socket path and handles one extension connection at a
// time until ctx is cancelled
func (r *Receiver) Serve(ctx context.Context) error {
	ln, err := socket.Listen(r.path)
	if err != nil {
		return err
	}

	log := logger.WithComponent("host")
	log.Info().Str("path", r.path).Msg("Listening for extension")

	r.publishBanner(overlay.NewBanner(bannerWaiting).Placeholder(placeholderWidth, placeholderHeight))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		r.handle(ctx, conn)
	}
}

func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	log := logger.WithComponent("host")
	log.Info().Msg("Extension connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	r.mu.Lock()
	r.status.Connected = true
	r.notifyLocked()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.status.Connected = false
		r.notifyLocked()
		r.mu.Unlock()
		log.Info().Msg("Extension disconnected")
	}()

	dec := protocol.NewDecoder(bufio.NewReaderSize(conn, 1<<20))
	for {
		rec, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			// Framing is lost once a header or payload is cut short
			r.countDecodeError()
			log.Warn().Err(err).Msg("Dropping extension stream")
			return
		}
		r.handleRecord(rec)
	}
}

func (r *Receiver) handleRecord(rec protocol.Record) {
	r.mu.Lock()
	r.status.Records++
	r.status.Bytes += uint64(protocol.HeaderSize + len(rec.Payload))
	r.mu.Unlock()

	if rec.Type != protocol.FrameTypeVideo {
		r.mu.Lock()
		r.status.Skipped++
		r.mu.Unlock()
		return
	}

	img, err := ToRGBA(rec)
	if err != nil {
		r.countDecodeError()
		logger.WithComponent("host").Debug().Err(err).
			Uint32("width", rec.Width).
			Uint32("height", rec.Height).
			Int("length", len(rec.Payload)).
			Msg("Bad video record")
		return
	}

	r.mu.Lock()
	first := r.status.Width != img.Rect.Dx() || r.status.Height != img.Rect.Dy()
	r.lastFrame = img
	r.status.Frames++
	r.status.Width = img.Rect.Dx()
	r.status.Height = img.Rect.Dy()
	r.status.LastFrame = time.Now()
	if first {
		r.notifyLocked()
	}
	r.mu.Unlock()

	if r.out != nil && r.out.IsRunning() {
		if err := r.out.WriteFrame(img); err != nil {
			logger.WithComponent("host").Debug().Err(err).Msg("Output rejected frame")
		}
	}
}

func (r *Receiver) countDecodeError() {
	r.mu.Lock()
	r.status.DecodeErrors++
	r.mu.Unlock()
}

// ToRGBA converts a BGRA video record into an RGBA image
func ToRGBA(rec protocol.Record) (*image.RGBA, error) {
	w, h := uint64(rec.Width), uint64(rec.Height)
	if w == 0 || h == 0 || w*h > protocol.MaxPayload/4 || w*h*4 != uint64(len(rec.Payload)) {
		return nil, fmt.Errorf("%dx%d with %d bytes: %w", w, h, len(rec.Payload), ErrBadFrame)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	src := rec.Payload
	dst := img.Pix
	for i := 0; i < len(src); i += 4 {
		dst[i+0] = src[i+2]
		dst[i+1] = src[i+1]
		dst[i+2] = src[i+0]
		dst[i+3] = 255
	}
	return img, nil
}
