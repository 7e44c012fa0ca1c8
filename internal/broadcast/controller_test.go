package broadcast

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/capture"
	"github.com/bryanchriswhite/ScreenRelay/internal/config"
	"github.com/bryanchriswhite/ScreenRelay/internal/protocol"
	"github.com/bryanchriswhite/ScreenRelay/internal/signal"
	"github.com/bryanchriswhite/ScreenRelay/internal/socket"
)

type fakeConn struct {
	mu           sync.Mutex
	failOpens    int
	opens        int
	open         bool
	records      [][]byte
	onClose      func(error)
	closeOnce    sync.Once
	opened       chan struct{}
	openedSignal sync.Once
}

func newFakeConn(failOpens int) *fakeConn {
	return &fakeConn{failOpens: failOpens, opened: make(chan struct{})}
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.opens <= c.failOpens {
		return false
	}
	c.open = true
	c.openedSignal.Do(func() { close(c.opened) })
	return true
}

func (c *fakeConn) Close() { c.fail(nil) }

func (c *fakeConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.open = false
		cb := c.onClose
		c.mu.Unlock()
		if cb != nil {
			go cb(err)
		}
	})
}

func (c *fakeConn) OnClose(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

func (c *fakeConn) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return socket.ErrNotOpen
	}
	c.records = append(c.records, b)
	return nil
}

func (c *fakeConn) Pending() int { return 0 }

func (c *fakeConn) snapshot() (opens int, records [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, append([][]byte(nil), c.records...)
}

type fakeHost struct {
	errs chan error
}

func (h *fakeHost) FinishBroadcastWithError(err error) { h.errs <- err }

type fakeNotifier struct {
	mu    sync.Mutex
	names []string
}

func (n *fakeNotifier) PostNotification(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = append(n.names, name)
}

func (n *fakeNotifier) posted() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.names...)
}

func testOptions() Options {
	return Options{RetryInterval: 5 * time.Millisecond, RetryTolerance: time.Millisecond, Locale: "en"}
}

func startConnected(t *testing.T, conn *fakeConn) (*Controller, *fakeHost, *fakeNotifier) {
	t.Helper()
	host := &fakeHost{errs: make(chan error, 4)}
	notifier := &fakeNotifier{}
	c := newController(testOptions(), host, notifier, conn)

	c.BroadcastStarted(nil)
	select {
	case <-conn.opened:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for connection to open")
	}
	return c, host, notifier
}

func videoSample(t *testing.T, tag byte) capture.Sample {
	t.Helper()
	buf, err := capture.NewBGRABuffer(1, 1, []byte{tag, tag, tag, tag})
	if err != nil {
		t.Fatal(err)
	}
	return capture.Sample{Pixels: buf, Timestamp: time.Now()}
}

// TestDecimationForwardsEvenFrames verifies N video frames yield floor(N/2)
// records, namely frames 2, 4, 6, ...
func TestDecimationForwardsEvenFrames(t *testing.T) {
	conn := newFakeConn(0)
	c, _, _ := startConnected(t, conn)
	defer c.BroadcastFinished()

	const n = 7
	for i := 1; i <= n; i++ {
		c.ProcessSampleBuffer(videoSample(t, byte(i)), capture.SampleTypeVideo)
	}

	_, records := conn.snapshot()
	if len(records) != n/2 {
		t.Fatalf("Expected %d records, got %d", n/2, len(records))
	}
	for i, raw := range records {
		r, err := protocol.NewDecoder(bytes.NewReader(raw)).Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if want := byte(2 * (i + 1)); r.Payload[0] != want {
			t.Errorf("record %d: expected frame %d, got %d", i, want, r.Payload[0])
		}
	}
}

func TestNonVideoSamplesIgnored(t *testing.T) {
	conn := newFakeConn(0)
	c, _, _ := startConnected(t, conn)
	defer c.BroadcastFinished()

	for i := 0; i < 10; i++ {
		c.ProcessSampleBuffer(videoSample(t, 1), capture.SampleTypeAudioApp)
		c.ProcessSampleBuffer(videoSample(t, 1), capture.SampleTypeAudioMic)
	}

	if _, records := conn.snapshot(); len(records) != 0 {
		t.Errorf("Expected no records for audio samples, got %d", len(records))
	}
	if c.frames.Load() != 0 {
		t.Errorf("Audio samples should not advance the frame counter")
	}
}

func TestCounterResetsOnStart(t *testing.T) {
	conn := newFakeConn(0)
	c, _, _ := startConnected(t, conn)
	defer c.BroadcastFinished()

	c.ProcessSampleBuffer(videoSample(t, 1), capture.SampleTypeVideo)
	c.BroadcastStarted(nil)
	if c.frames.Load() != 0 {
		t.Errorf("Expected counter reset on start, got %d", c.frames.Load())
	}
}

// TestReconnectStopsAfterSuccess verifies no Open calls follow the first success.
func TestReconnectStopsAfterSuccess(t *testing.T) {
	const failures = 3
	conn := newFakeConn(failures)
	c, _, _ := startConnected(t, conn)
	defer c.BroadcastFinished()

	time.Sleep(50 * time.Millisecond)
	if opens, _ := conn.snapshot(); opens != failures+1 {
		t.Errorf("Expected %d Open calls, got %d", failures+1, opens)
	}
}

func TestLifecycleSignals(t *testing.T) {
	conn := newFakeConn(0)
	c, host, notifier := startConnected(t, conn)

	c.BroadcastPaused()
	if c.State() != StatePaused {
		t.Errorf("Expected paused, got %v", c.State())
	}
	c.BroadcastResumed()
	c.BroadcastFinished()

	posted := notifier.posted()
	if len(posted) != 2 || posted[0] != signal.BroadcastStarted || posted[1] != signal.BroadcastStopped {
		t.Errorf("Expected started then stopped, got %v", posted)
	}
	if c.State() != StateIdle {
		t.Errorf("Expected idle, got %v", c.State())
	}

	// The close triggered by finishing must not report a second stop
	select {
	case err := <-host.errs:
		t.Errorf("Unexpected FinishBroadcastWithError(%v) after finish", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransportErrorFinishesBroadcast(t *testing.T) {
	conn := newFakeConn(0)
	c, host, _ := startConnected(t, conn)
	defer c.BroadcastFinished()

	cause := errors.New("broken pipe")
	conn.fail(cause)

	select {
	case err := <-host.errs:
		if !errors.Is(err, ErrSharingStopped) {
			t.Errorf("Expected ErrSharingStopped, got %v", err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("Expected cause to be wrapped, got %v", err)
		}
		if err.Error() != "Sharing stopped: broken pipe" {
			t.Errorf("Unexpected message %q", err.Error())
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for FinishBroadcastWithError")
	}
}

func TestGracefulCloseFinishesBroadcastLocalized(t *testing.T) {
	conn := newFakeConn(0)
	host := &fakeHost{errs: make(chan error, 1)}
	opts := testOptions()
	opts.Locale = "de-AT"
	c := newController(opts, host, &fakeNotifier{}, conn)
	c.BroadcastStarted(nil)
	<-conn.opened
	defer c.BroadcastFinished()

	conn.fail(nil)

	select {
	case err := <-host.errs:
		if !errors.Is(err, ErrScreensharingStopped) {
			t.Errorf("Expected ErrScreensharingStopped, got %v", err)
		}
		if err.Error() != "Bildschirmfreigabe beendet" {
			t.Errorf("Expected German message, got %q", err.Error())
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for FinishBroadcastWithError")
	}
}

func TestDegradedWithoutContainer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Container.Root = filepath.Join(t.TempDir(), "missing")

	notifier := &fakeNotifier{}
	c := NewController(cfg, &fakeHost{errs: make(chan error, 1)}, notifier)
	if !c.Degraded() {
		t.Fatal("Expected degraded controller without a shared container")
	}

	c.BroadcastStarted(nil)
	for i := 0; i < 4; i++ {
		c.ProcessSampleBuffer(videoSample(t, 1), capture.SampleTypeVideo)
	}
	c.BroadcastFinished()

	if st := c.Stats(); st.Sent != 0 {
		t.Errorf("Expected nothing sent in degraded mode, got %+v", st)
	}
	if len(notifier.posted()) != 2 {
		t.Errorf("Degraded controller should still post lifecycle signals, got %v", notifier.posted())
	}
}
