package broadcast

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
)

// Reconnector calls open on its own goroutine, immediately and then every
// interval plus up to tolerance of slack, until open returns true or Stop
// is called. There is no overall deadline.
type Reconnector struct {
	open      func() bool
	interval  time.Duration
	tolerance time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	attempts  uint32
	connected atomic.Bool
}

// StartReconnect begins attempting immediately
func StartReconnect(open func() bool, interval, tolerance time.Duration) *Reconnector {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconnector{
		open:      open,
		interval:  interval,
		tolerance: tolerance,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *Reconnector) run(ctx context.Context) {
	defer close(r.done)
	log := logger.WithComponent("reconnect")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Uint32("attempts", r.Attempts()).Msg("Reconnect cancelled")
			return
		case <-timer.C:
		}

		n := atomic.AddUint32(&r.attempts, 1)
		if r.open() {
			r.connected.Store(true)
			log.Info().Uint32("attempts", n).Msg("Connection established, reconnect timer stopped")
			return
		}

		timer.Reset(r.nextDelay())
	}
}

func (r *Reconnector) nextDelay() time.Duration {
	if r.tolerance <= 0 {
		return r.interval
	}
	return r.interval + time.Duration(rand.Int63n(int64(r.tolerance) + 1))
}

// Stop cancels further attempts and waits for the goroutine to exit
func (r *Reconnector) Stop() {
	r.stopOnce.Do(r.cancel)
	<-r.done
}

// Done is closed when the reconnector has stopped for any reason
func (r *Reconnector) Done() <-chan struct{} {
	return r.done
}

// Attempts returns how many times open has been called
func (r *Reconnector) Attempts() uint32 {
	return atomic.LoadUint32(&r.attempts)
}

// Connected reports whether an attempt succeeded
func (r *Reconnector) Connected() bool {
	return r.connected.Load()
}
