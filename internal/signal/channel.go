// Package signal is a process-wide, payload-less publish/subscribe channel
// keyed by name. Posts leave the process through a Transport (the D-Bus
// session bus in production) and come back to every process that observes
// the name, including the poster.
//
// Delivery is best effort: no acknowledgement, no retry and no ordering
// relative to other channels. While a delivery for a name is still pending,
// further arrivals of that name are folded into it.
package signal

import (
	"sync"

	"github.com/bryanchriswhite/ScreenRelay/internal/guard"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
)

// Notification names shared by the extension and the host
const (
	BroadcastStarted = "org.screenrelay.broadcast.started"
	BroadcastStopped = "org.screenrelay.broadcast.stopped"
)

// Handler runs when an observed name is delivered
type Handler func()

// Transport carries names between processes
type Transport interface {
	// Post broadcasts name to every subscriber on the bus
	Post(name string) error

	// Subscribe starts delivering name to this process
	Subscribe(name string) error

	// Unsubscribe stops delivering name to this process
	Unsubscribe(name string) error

	Close() error
}

// Dialer connects a transport that hands every received name to deliver
type Dialer func(deliver func(name string)) (Transport, error)

const queueSize = 64

// Channel is the registration table plus the dispatch goroutine
type Channel struct {
	transport Transport

	// name -> handlers in registration order; replaced, never mutated
	table *guard.Value[map[string][]Handler]
	// names with a delivery queued but not yet dispatched
	pending *guard.Value[map[string]bool]

	// subMu keeps table changes and the matching transport call in order
	subMu sync.Mutex

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open dials the transport and starts dispatching
func Open(dial Dialer) (*Channel, error) {
	c := &Channel{
		table:   guard.New(map[string][]Handler{}),
		pending: guard.New(map[string]bool{}),
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}

	t, err := dial(c.deliver)
	if err != nil {
		return nil, err
	}
	c.transport = t

	c.wg.Add(1)
	go c.dispatch()

	return c, nil
}

// PostNotification broadcasts name. Transport failures are logged, never returned.
func (c *Channel) PostNotification(name string) {
	log := logger.WithComponent("signal")
	if err := c.transport.Post(name); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("Failed to post notification")
		return
	}
	log.Debug().Str("name", name).Msg("Posted notification")
}

// AddObserver appends handler to the handlers for name
func (c *Channel) AddObserver(name string, handler Handler) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	first := false
	c.table.Update(func(table map[string][]Handler) map[string][]Handler {
		next := copyTable(table)
		first = len(next[name]) == 0
		next[name] = append(append([]Handler(nil), next[name]...), handler)
		return next
	})

	if first {
		if err := c.transport.Subscribe(name); err != nil {
			logger.WithComponent("signal").Warn().Err(err).Str("name", name).Msg("Failed to subscribe")
		}
	}
}

// RemoveObserver drops every handler registered for name
func (c *Channel) RemoveObserver(name string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	removed := false
	c.table.Update(func(table map[string][]Handler) map[string][]Handler {
		if _, ok := table[name]; !ok {
			return table
		}
		removed = true
		next := copyTable(table)
		delete(next, name)
		return next
	})

	if removed {
		if err := c.transport.Unsubscribe(name); err != nil {
			logger.WithComponent("signal").Warn().Err(err).Str("name", name).Msg("Failed to unsubscribe")
		}
	}
}

// Observing reports how many handlers are registered for name
func (c *Channel) Observing(name string) int {
	return len(c.table.Load()[name])
}

// Close stops dispatching and closes the transport. Pending deliveries are discarded.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
		c.wg.Wait()
	})
	return err
}

// deliver is called by the transport for every received name
func (c *Channel) deliver(name string) {
	if len(c.table.Load()[name]) == 0 {
		return
	}

	queued := false
	c.pending.Update(func(p map[string]bool) map[string]bool {
		if !p[name] {
			p[name] = true
			queued = true
		}
		return p
	})
	if !queued {
		logger.WithComponent("signal").Trace().Str("name", name).Msg("Coalesced notification")
		return
	}

	select {
	case c.queue <- name:
	case <-c.done:
	}
}

func (c *Channel) dispatch() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case name := <-c.queue:
			c.pending.Update(func(p map[string]bool) map[string]bool {
				delete(p, name)
				return p
			})
			for _, h := range c.table.Load()[name] {
				h()
			}
		}
	}
}

func copyTable(table map[string][]Handler) map[string][]Handler {
	next := make(map[string][]Handler, len(table)+1)
	for k, v := range table {
		next[k] = v
	}
	return next
}
