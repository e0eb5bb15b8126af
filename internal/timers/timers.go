// Package timers keeps at most one cancellable timer per key.
package timers

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Poster hands a fired callback to the goroutine that owns the state it
// touches. The session passes its task queue; tests may run callbacks inline.
type Poster func(fn func())

// Inline runs callbacks on the timer goroutine.
func Inline(fn func()) { fn() }

// Registry schedules keyed callbacks. Scheduling a key that is already
// pending replaces the previous timer, so only the latest call fires.
type Registry[K comparable] struct {
	clock clock.Clock
	post  Poster

	mu      sync.Mutex
	pending map[K]entry
	gen     uint64
}

type entry struct {
	timer *clock.Timer
	gen   uint64
}

// New builds a registry on clk. A nil clk uses the wall clock.
func New[K comparable](clk clock.Clock, post Poster) *Registry[K] {
	if clk == nil {
		clk = clock.New()
	}
	if post == nil {
		post = Inline
	}
	return &Registry[K]{
		clock:   clk,
		post:    post,
		pending: make(map[K]entry),
	}
}

// Schedule runs fn after d unless the key is rescheduled or cancelled first.
func (r *Registry[K]) Schedule(key K, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.pending[key]; ok {
		prev.timer.Stop()
	}
	r.gen++
	gen := r.gen
	t := r.clock.AfterFunc(d, func() {
		r.post(func() { r.fire(key, gen, fn) })
	})
	r.pending[key] = entry{timer: t, gen: gen}
}

// Cancel stops the timer for key. It reports whether one was pending.
func (r *Registry[K]) Cancel(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.pending[key]
	if !ok {
		return false
	}
	prev.timer.Stop()
	delete(r.pending, key)
	return true
}

// Pending reports whether key has a timer that has not fired yet.
func (r *Registry[K]) Pending(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Len returns the number of pending timers.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Stop cancels every pending timer.
func (r *Registry[K]) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.pending {
		e.timer.Stop()
		delete(r.pending, key)
	}
}

// fire runs fn only if the timer that posted it is still the current one for
// key. A timer can fire and queue its callback just before being replaced.
func (r *Registry[K]) fire(key K, gen uint64, fn func()) {
	r.mu.Lock()
	e, ok := r.pending[key]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.pending, key)
	r.mu.Unlock()

	fn()
}
