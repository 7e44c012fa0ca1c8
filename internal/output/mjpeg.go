package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
)

// MJPEGOutput re-serves received frames as Motion JPEG over HTTP so the
// broadcast can be watched in a browser
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	frameMu    sync.Mutex
	lastFrame  []byte
	lastUpdate time.Time
	interval   time.Duration

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	statsMu    sync.Mutex
	frameCount uint64
	skipped    uint64
	startTime  time.Time
}

// MJPEGStats is reported on the host status endpoint
type MJPEGStats struct {
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
	Clients int    `json:"clients"`
	Uptime  string `json:"uptime"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 80
	}
	var interval time.Duration
	if config.FPS > 0 {
		interval = time.Second / time.Duration(config.FPS)
	}
	return &MJPEGOutput{
		config:   config,
		interval: interval,
		clients:  make(map[chan []byte]struct{}),
	}
}

// Start marks the output running
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}
	m.running = true

	m.statsMu.Lock()
	m.startTime = time.Now()
	m.frameCount = 0
	m.skipped = 0
	m.statsMu.Unlock()

	logger.WithComponent("mjpeg").Info().
		Int("fps", m.config.FPS).
		Int("quality", m.config.Quality).
		Msg("MJPEG output started")
	return nil
}

// Stop disconnects every client
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.Stats().Frames).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes frame and fans it out. Frames arriving faster than the
// configured FPS are skipped before encoding.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	now := time.Now()
	m.frameMu.Lock()
	if m.interval > 0 && !m.lastUpdate.IsZero() && now.Sub(m.lastUpdate) < m.interval {
		m.frameMu.Unlock()
		m.statsMu.Lock()
		m.skipped++
		m.statsMu.Unlock()
		return nil
	}
	m.lastUpdate = now
	m.frameMu.Unlock()

	return m.publish(frame)
}

// WriteFrameNow bypasses the FPS cap, for status frames that must not be skipped
func (m *MJPEGOutput) WriteFrameNow(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}
	return m.publish(frame)
}

func (m *MJPEGOutput) publish(frame *image.RGBA) error {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastFrame = jpegData
	m.frameMu.Unlock()

	m.statsMu.Lock()
	m.frameCount++
	m.statsMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastFrame returns the most recent JPEG, or nil
func (m *MJPEGOutput) LastFrame() []byte {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	return m.lastFrame
}

// Stats returns output counters
func (m *MJPEGOutput) Stats() MJPEGStats {
	m.clientsMu.RLock()
	clients := len(m.clients)
	m.clientsMu.RUnlock()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	var uptime time.Duration
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Round(time.Second)
	}
	return MJPEGStats{
		Frames:  m.frameCount,
		Skipped: m.skipped,
		Clients: clients,
		Uptime:  uptime.String(),
	}
}

// StreamHandler serves the multipart MJPEG stream
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", clientCount).Msg("Client connected")

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Client disconnected")
		}()

		// Start new viewers on the last frame instead of a blank page
		if last := m.LastFrame(); last != nil {
			if err := writePart(w, last); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
