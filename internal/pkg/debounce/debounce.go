// Package debounce coalesces bursts of calls per key into one delayed call that
// sees the latest value.
package debounce

import (
	"sync"
	"time"
)

// Debouncer holds at most one pending task per key. Scheduling a key that is
// already pending restarts its timer and replaces its value.
type Debouncer[K comparable, V any] struct {
	delay time.Duration
	fn    func(K, V)

	mu      sync.Mutex
	pending map[K]*task[V]
	seq     uint64
}

type task[V any] struct {
	timer *time.Timer
	value V
	id    uint64
}

func New[K comparable, V any](delay time.Duration, fn func(K, V)) *Debouncer[K, V] {
	return &Debouncer[K, V]{
		delay:   delay,
		fn:      fn,
		pending: make(map[K]*task[V]),
	}
}

// Schedule (re)starts the timer for key with value.
func (d *Debouncer[K, V]) Schedule(key K, value V) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[key]; ok {
		t.timer.Stop()
	}
	d.seq++
	id := d.seq
	d.pending[key] = &task[V]{
		value: value,
		id:    id,
		timer: time.AfterFunc(d.delay, func() { d.fire(key, id) }),
	}
}

// fire runs the task for key unless it was replaced or cancelled after the
// timer was armed.
func (d *Debouncer[K, V]) fire(key K, id uint64) {
	d.mu.Lock()
	t, ok := d.pending[key]
	if !ok || t.id != id {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	d.fn(key, t.value)
}

// Cancel drops the pending task for key. It reports whether one existed.
func (d *Debouncer[K, V]) Cancel(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.pending[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(d.pending, key)
	return true
}

// Take removes the pending task for key without running it and returns its
// value.
func (d *Debouncer[K, V]) Take(key K) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.pending[key]
	if !ok {
		var zero V
		return zero, false
	}
	t.timer.Stop()
	delete(d.pending, key)
	return t.value, true
}

// Flush runs every pending task now, on the calling goroutine.
func (d *Debouncer[K, V]) Flush() int {
	d.mu.Lock()
	tasks := d.pending
	d.pending = make(map[K]*task[V])
	for _, t := range tasks {
		t.timer.Stop()
	}
	d.mu.Unlock()

	for k, t := range tasks {
		d.fn(k, t.value)
	}
	return len(tasks)
}

// Pending returns the number of keys waiting to fire.
func (d *Debouncer[K, V]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
