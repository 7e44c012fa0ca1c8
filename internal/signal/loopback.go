package signal

import (
	"errors"
	"sync"
)

var errTransportClosed = errors.New("signal: transport closed")

// Loopback is an in-memory bus. Every Channel dialed through the same
// Loopback behaves like a separate process on one system bus.
type Loopback struct {
	mu    sync.Mutex
	peers []*loopbackPeer
}

// NewLoopback creates an empty in-memory bus
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Dial attaches a new peer to the bus
func (b *Loopback) Dial(deliver func(name string)) (Transport, error) {
	p := &loopbackPeer{
		bus:     b,
		deliver: deliver,
		subs:    make(map[string]bool),
	}

	b.mu.Lock()
	b.peers = append(b.peers, p)
	b.mu.Unlock()

	return p, nil
}

type loopbackPeer struct {
	bus     *Loopback
	deliver func(name string)
	subs    map[string]bool // guarded by bus.mu
	closed  bool            // guarded by bus.mu
}

func (p *loopbackPeer) Post(name string) error {
	p.bus.mu.Lock()
	if p.closed {
		p.bus.mu.Unlock()
		return errTransportClosed
	}
	var targets []func(string)
	for _, peer := range p.bus.peers {
		if !peer.closed && peer.subs[name] {
			targets = append(targets, peer.deliver)
		}
	}
	p.bus.mu.Unlock()

	for _, deliver := range targets {
		deliver(name)
	}
	return nil
}

func (p *loopbackPeer) Subscribe(name string) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if p.closed {
		return errTransportClosed
	}
	p.subs[name] = true
	return nil
}

func (p *loopbackPeer) Unsubscribe(name string) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	delete(p.subs, name)
	return nil
}

func (p *loopbackPeer) Close() error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	p.closed = true
	return nil
}
