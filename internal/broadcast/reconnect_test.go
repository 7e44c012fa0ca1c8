package broadcast

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnectorFiresImmediately(t *testing.T) {
	called := make(chan struct{}, 1)
	r := StartReconnect(func() bool {
		called <- struct{}{}
		return true
	}, time.Hour, 0)
	defer r.Stop()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("First attempt was not immediate")
	}
	<-r.Done()
	if !r.Connected() {
		t.Error("Expected Connected after success")
	}
}

func TestReconnectorStopCancels(t *testing.T) {
	var calls int32
	r := StartReconnect(func() bool {
		atomic.AddInt32(&calls, 1)
		return false
	}, 2*time.Millisecond, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	r.Stop()
	after := atomic.LoadInt32(&calls)
	if after == 0 {
		t.Fatal("Expected some attempts before Stop")
	}
	if r.Connected() {
		t.Error("Connected should be false when every attempt failed")
	}

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != after {
		t.Errorf("Expected no attempts after Stop, got %d more", got-after)
	}

	// Stop is idempotent
	r.Stop()
}

func TestReconnectorDelayWithinTolerance(t *testing.T) {
	r := &Reconnector{interval: 10 * time.Millisecond, tolerance: 5 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := r.nextDelay()
		if d < 10*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("Delay %v outside [10ms, 15ms]", d)
		}
	}
}
