package guard

import "sync"

// Value holds a single value shared between goroutines. Load and Store are
// mutually exclusive. Calling back into the same Value from inside Update
// deadlocks.
type Value[T any] struct {
	mu    sync.Mutex
	value T
}

// New wraps an initial value
func New[T any](initial T) *Value[T] {
	return &Value[T]{value: initial}
}

// Load returns a snapshot of the current value
func (v *Value[T]) Load() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// Store replaces the current value
func (v *Value[T]) Store(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
}

// Update replaces the value with fn(current) under the lock and returns the
// new value. fn must not touch v.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = fn(v.value)
	return v.value
}
