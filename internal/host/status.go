package host

import (
	"time"
)

// Status is the host's view of the relay, served on /api/status and pushed
// to websocket subscribers
type Status struct {
	Broadcasting bool      `json:"broadcasting"`
	Connected    bool      `json:"connected"`
	SocketPath   string    `json:"socket_path"`
	Records      uint64    `json:"records"`
	Frames       uint64    `json:"frames"`
	Skipped      uint64    `json:"skipped"`
	Bytes        uint64    `json:"bytes"`
	DecodeErrors uint64    `json:"decode_errors"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	LastFrame    time.Time `json:"last_frame,omitempty"`
	Since        time.Time `json:"since,omitempty"`
}

// Subscribe returns a channel that receives a snapshot on every state change
func (r *Receiver) Subscribe() chan Status {
	ch := make(chan Status, 10)
	r.mu.Lock()
	r.listeners = append(r.listeners, ch)
	r.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener
func (r *Receiver) Unsubscribe(ch chan Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.listeners {
		if l == ch {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// notifyLocked pushes the current status to listeners. Caller holds r.mu.
func (r *Receiver) notifyLocked() {
	st := r.status
	for _, l := range r.listeners {
		select {
		case l <- st:
		default:
			// Skip if channel is full
		}
	}
}
