// Package upload turns captured video frames into wire records on the
// extension's socket connection.
package upload

import (
	"sync/atomic"

	"github.com/bryanchriswhite/ScreenRelay/internal/capture"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/bryanchriswhite/ScreenRelay/internal/protocol"
)

// Conn is the part of the socket connection the uploader writes through
type Conn interface {
	Write(b []byte) error
	Pending() int
}

// Stats counts what happened to frames handed to Send
type Stats struct {
	Sent           uint64
	DroppedLock    uint64 // pixel buffer could not be locked
	DroppedClosed  uint64 // connection not open
	DroppedBacklog uint64 // too many bytes still queued
	BytesSent      uint64
}

// Uploader encodes one record per admitted frame. It does not own the
// connection and must not outlive it.
type Uploader struct {
	conn       Conn
	maxPending int

	sent           uint64
	droppedLock    uint64
	droppedClosed  uint64
	droppedBacklog uint64
	bytesSent      uint64
}

// New creates an uploader. maxPending bounds the connection backlog at
// which new frames are refused; zero disables the bound.
func New(conn Conn, maxPending int) *Uploader {
	return &Uploader{conn: conn, maxPending: maxPending}
}

// Send writes sample as one video record, or drops it. It never blocks on
// the peer and never retries a dropped frame.
func (u *Uploader) Send(sample capture.Sample) bool {
	log := logger.WithComponent("uploader")

	if u.maxPending > 0 {
		if pending := u.conn.Pending(); pending > u.maxPending {
			atomic.AddUint64(&u.droppedBacklog, 1)
			log.Trace().Int("pending", pending).Msg("Dropping frame, connection backlog full")
			return false
		}
	}

	buf := sample.Pixels
	if buf == nil {
		atomic.AddUint64(&u.droppedLock, 1)
		return false
	}
	if err := buf.LockReadOnly(); err != nil {
		atomic.AddUint64(&u.droppedLock, 1)
		log.Trace().Err(err).Msg("Dropping frame, pixel buffer lock failed")
		return false
	}
	defer buf.Unlock()

	record := protocol.AppendRecord(nil, protocol.Record{
		Type:    protocol.FrameTypeVideo,
		Width:   uint32(buf.Width()),
		Height:  uint32(buf.Height()),
		Payload: buf.Bytes(),
	})

	if err := u.conn.Write(record); err != nil {
		atomic.AddUint64(&u.droppedClosed, 1)
		log.Trace().Err(err).Msg("Dropping frame, connection not writable")
		return false
	}

	atomic.AddUint64(&u.sent, 1)
	atomic.AddUint64(&u.bytesSent, uint64(len(record)))
	return true
}

// Stats returns a snapshot of the counters
func (u *Uploader) Stats() Stats {
	return Stats{
		Sent:           atomic.LoadUint64(&u.sent),
		DroppedLock:    atomic.LoadUint64(&u.droppedLock),
		DroppedClosed:  atomic.LoadUint64(&u.droppedClosed),
		DroppedBacklog: atomic.LoadUint64(&u.droppedBacklog),
		BytesSent:      atomic.LoadUint64(&u.bytesSent),
	}
}
