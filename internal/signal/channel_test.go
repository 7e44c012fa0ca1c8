package signal

import (
	"sync"
	"testing"
	"time"
)

func openLoopback(t *testing.T, bus *Loopback) *Channel {
	t.Helper()
	c, err := Open(bus.Dial)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestHandlersRunInRegistrationOrder verifies two handlers for one name both
// run exactly once, in order, for a single post.
func TestHandlersRunInRegistrationOrder(t *testing.T) {
	c := openLoopback(t, NewLoopback())

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{})

	c.AddObserver(BroadcastStarted, func() {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
	})
	c.AddObserver(BroadcastStarted, func() {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
		close(done)
	})

	c.PostNotification(BroadcastStarted)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for handlers")
	}

	// Give a stray duplicate delivery a chance to show up
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("Expected [first second], got %v", calls)
	}
}

// TestRemoveObserverSilencesName verifies posting after removal runs nothing.
func TestRemoveObserverSilencesName(t *testing.T) {
	c := openLoopback(t, NewLoopback())

	fired := make(chan struct{}, 4)
	c.AddObserver(BroadcastStopped, func() { fired <- struct{}{} })
	c.AddObserver(BroadcastStopped, func() { fired <- struct{}{} })
	c.RemoveObserver(BroadcastStopped)

	if n := c.Observing(BroadcastStopped); n != 0 {
		t.Fatalf("Expected no observers after removal, got %d", n)
	}

	c.PostNotification(BroadcastStopped)

	select {
	case <-fired:
		t.Fatal("Handler ran after RemoveObserver")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPostWithoutObservers(t *testing.T) {
	c := openLoopback(t, NewLoopback())

	c.PostNotification(BroadcastStarted)
	c.RemoveObserver(BroadcastStarted)
	c.PostNotification("org.screenrelay.unknown")
}

// TestCrossProcessDelivery verifies a post from one peer reaches another.
func TestCrossProcessDelivery(t *testing.T) {
	bus := NewLoopback()
	extension := openLoopback(t, bus)
	host := openLoopback(t, bus)

	got := make(chan string, 2)
	host.AddObserver(BroadcastStarted, func() { got <- BroadcastStarted })
	host.AddObserver(BroadcastStopped, func() { got <- BroadcastStopped })

	extension.PostNotification(BroadcastStarted)
	select {
	case name := <-got:
		if name != BroadcastStarted {
			t.Errorf("Expected %s, got %s", BroadcastStarted, name)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for cross-process delivery")
	}
}

// TestCoalescing verifies a burst of posts while the dispatcher is busy
// collapses into at most one extra delivery.
func TestCoalescing(t *testing.T) {
	c := openLoopback(t, NewLoopback())

	release := make(chan struct{})
	var mu sync.Mutex
	count := 0
	c.AddObserver(BroadcastStarted, func() {
		mu.Lock()
		count++
		first := count == 1
		mu.Unlock()
		if first {
			<-release
		}
	})

	c.PostNotification(BroadcastStarted)
	// Wait until the first delivery is running and blocked
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for first delivery")
		case <-time.After(time.Millisecond):
		}
	}

	for i := 0; i < 10; i++ {
		c.PostNotification(BroadcastStarted)
	}
	close(release)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("Expected burst to coalesce into 2 deliveries, got %d", count)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := Open(NewLoopback().Dial)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("First Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

// gatedTransport holds Unsubscribe until release is closed
type gatedTransport struct {
	Transport
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTransport) Unsubscribe(name string) error {
	close(g.entered)
	<-g.release
	return g.Transport.Unsubscribe(name)
}

// TestAddDuringRemoveKeepsSubscription checks that an observer added while a
// removal for the same name is still unsubscribing ends up subscribed.
func TestAddDuringRemoveKeepsSubscription(t *testing.T) {
	bus := NewLoopback()
	gate := &gatedTransport{entered: make(chan struct{}), release: make(chan struct{})}
	c, err := Open(func(deliver func(string)) (Transport, error) {
		tr, err := bus.Dial(deliver)
		gate.Transport = tr
		return gate, err
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()
	poster := openLoopback(t, bus)

	c.AddObserver(BroadcastStarted, func() {})

	removed := make(chan struct{})
	go func() {
		c.RemoveObserver(BroadcastStarted)
		close(removed)
	}()
	<-gate.entered

	delivered := make(chan struct{}, 1)
	added := make(chan struct{})
	go func() {
		c.AddObserver(BroadcastStarted, func() {
			select {
			case delivered <- struct{}{}:
			default:
			}
		})
		close(added)
	}()

	// Give the add a chance to run ahead of the pending unsubscribe
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	for _, ch := range []chan struct{}{removed, added} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for add/remove to finish")
		}
	}
	if n := c.Observing(BroadcastStarted); n != 1 {
		t.Fatalf("Expected 1 handler after re-adding, got %d", n)
	}

	poster.PostNotification(BroadcastStarted)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("Handler registered but post was not delivered")
	}
}
