package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/config"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/bryanchriswhite/ScreenRelay/internal/output"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported on /api/health
const Version = "0.1.0"

const statusTick = time.Second

// Server exposes the preview stream and the receiver status over HTTP
type Server struct {
	router    *mux.Router
	receiver  *Receiver
	mjpeg     *output.MJPEGOutput
	configMgr *config.Manager
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a new host server. configMgr may be nil.
func NewServer(receiver *Receiver, mjpeg *output.MJPEGOutput, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		receiver:  receiver,
		mjpeg:     mjpeg,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local preview only
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/stream", s.mjpeg.StreamHandler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/stream", s.handleStatusStream)
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	logger.WithComponent("server").Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Status
	Output output.MJPEGStats `json:"output"`
}

func (s *Server) snapshot(st Status) statusResponse {
	return statusResponse{Status: st, Output: s.mjpeg.Stats()}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot(s.receiver.Status()))
}

// handleStatusStream pushes a snapshot on every state change, plus a periodic
// one so counters stay fresh
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("server")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.receiver.Subscribe()
	defer s.receiver.Unsubscribe(updates)

	// Drain client frames so close messages are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.snapshot(s.receiver.Status())); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	ticker := time.NewTicker(statusTick)
	defer ticker.Stop()

	for {
		var st Status
		select {
		case <-gone:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			st = u
		case <-ticker.C:
			st = s.receiver.Status()
		}
		if err := conn.WriteJSON(s.snapshot(st)); err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>ScreenRelay</title>
    <style>
        body { font-family: sans-serif; background: #202020; color: #eee; margin: 2em; }
        img { max-width: 100%; border: 1px solid #444; }
        pre { background: #111; padding: 1em; }
    </style>
</head>
<body>
    <h1>ScreenRelay</h1>
    <img src="/stream" alt="preview">
    <pre id="status">connecting...</pre>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/status/stream');
        ws.onmessage = (e) => { document.getElementById('status').textContent = JSON.stringify(JSON.parse(e.data), null, 2); };
        ws.onclose = () => { document.getElementById('status').textContent = 'disconnected'; };
    </script>
</body>
</html>
`
