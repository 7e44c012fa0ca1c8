package upload

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/capture"
	"github.com/bryanchriswhite/ScreenRelay/internal/protocol"
	"github.com/bryanchriswhite/ScreenRelay/internal/socket"
)

type fakeConn struct {
	buf     bytes.Buffer
	writes  int
	pending int
	err     error
}

func (c *fakeConn) Write(b []byte) error {
	if c.err != nil {
		return c.err
	}
	c.writes++
	c.buf.Write(b)
	return nil
}

func (c *fakeConn) Pending() int { return c.pending }

func sample(t *testing.T, w, h int, fill byte) (capture.Sample, *capture.BGRABuffer) {
	t.Helper()
	buf, err := capture.NewBGRABuffer(w, h, bytes.Repeat([]byte{fill}, w*h*4))
	if err != nil {
		t.Fatalf("NewBGRABuffer failed: %v", err)
	}
	return capture.Sample{Pixels: buf, Timestamp: time.Now()}, buf
}

func TestSendWritesOneRecordPerFrame(t *testing.T) {
	conn := &fakeConn{}
	u := New(conn, 0)

	for i := 0; i < 3; i++ {
		s, buf := sample(t, 4, 2, byte(i))
		if !u.Send(s) {
			t.Fatalf("Send %d dropped", i)
		}
		if buf.Locked() {
			t.Errorf("Send %d left the pixel buffer locked", i)
		}
	}

	if conn.writes != 3 {
		t.Errorf("Expected 3 writes, got %d", conn.writes)
	}

	dec := protocol.NewDecoder(&conn.buf)
	for i := 0; i < 3; i++ {
		r, err := dec.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if r.Type != protocol.FrameTypeVideo || r.Width != 4 || r.Height != 2 {
			t.Errorf("record %d: unexpected header %v %dx%d", i, r.Type, r.Width, r.Height)
		}
		if !bytes.Equal(r.Payload, bytes.Repeat([]byte{byte(i)}, 32)) {
			t.Errorf("record %d: payload out of order", i)
		}
	}

	if st := u.Stats(); st.Sent != 3 || st.BytesSent != 3*(protocol.HeaderSize+32) {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestSendDropsOnLockFailure(t *testing.T) {
	conn := &fakeConn{}
	u := New(conn, 0)

	s, buf := sample(t, 2, 2, 1)
	buf.Invalidate()
	if u.Send(s) {
		t.Error("Expected drop for invalidated buffer")
	}
	if conn.writes != 0 {
		t.Errorf("Expected no writes, got %d", conn.writes)
	}
	if u.Stats().DroppedLock != 1 {
		t.Errorf("Expected DroppedLock=1, got %+v", u.Stats())
	}
}

func TestSendUnlocksWhenConnectionClosed(t *testing.T) {
	conn := &fakeConn{err: socket.ErrNotOpen}
	u := New(conn, 0)

	s, buf := sample(t, 2, 2, 1)
	if u.Send(s) {
		t.Error("Expected drop when connection not open")
	}
	if buf.Locked() {
		t.Error("Pixel buffer left locked after failed write")
	}
	if !errors.Is(conn.err, socket.ErrNotOpen) || u.Stats().DroppedClosed != 1 {
		t.Errorf("Expected DroppedClosed=1, got %+v", u.Stats())
	}
}

func TestSendDropsOnBacklog(t *testing.T) {
	conn := &fakeConn{pending: 1 << 20}
	u := New(conn, 1<<10)

	s, _ := sample(t, 2, 2, 1)
	if u.Send(s) {
		t.Error("Expected drop with full backlog")
	}
	if u.Stats().DroppedBacklog != 1 {
		t.Errorf("Expected DroppedBacklog=1, got %+v", u.Stats())
	}

	conn.pending = 0
	if !u.Send(s) {
		t.Error("Expected send once backlog drained")
	}
}
