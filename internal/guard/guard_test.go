package guard

import (
	"sync"
	"testing"
)

func TestLoadStore(t *testing.T) {
	v := New("idle")
	if got := v.Load(); got != "idle" {
		t.Fatalf("Expected initial value idle, got %q", got)
	}

	v.Store("broadcasting")
	if got := v.Load(); got != "broadcasting" {
		t.Errorf("Expected broadcasting, got %q", got)
	}
}

// TestConcurrentUpdate verifies read-modify-write is not lost under contention.
func TestConcurrentUpdate(t *testing.T) {
	v := New(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Update(func(n int) int { return n + 1 })
				_ = v.Load()
			}
		}()
	}
	wg.Wait()

	if got := v.Load(); got != 5000 {
		t.Errorf("Expected 5000 after concurrent updates, got %d", got)
	}
}

func TestUpdateReturnsNewValue(t *testing.T) {
	v := New([]string{"a"})
	got := v.Update(func(s []string) []string { return append(s, "b") })
	if len(got) != 2 || got[1] != "b" {
		t.Errorf("Expected [a b], got %v", got)
	}
}
