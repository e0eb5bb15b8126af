// Package notify fans session change notifications out to subscribers.
package notify

import "sync"

// Listener receives an emitted value.
type Listener[V any] func(V)

type subscription[V any] struct {
	id uint64
	fn Listener[V]
}

// Emitter maps topics to listeners. Listeners run synchronously on the
// emitting goroutine, so they must return quickly.
type Emitter[K comparable, V any] struct {
	mu        sync.RWMutex
	listeners map[K][]subscription[V]
	any       []subscription[V]
	nextID    uint64
}

// New creates an empty emitter.
func New[K comparable, V any]() *Emitter[K, V] {
	return &Emitter[K, V]{listeners: make(map[K][]subscription[V])}
}

// On registers fn for topic and returns a function that removes it.
func (e *Emitter[K, V]) On(topic K, fn Listener[V]) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[topic] = append(e.listeners[topic], subscription[V]{id: id, fn: fn})
	return func() { e.remove(&topic, id) }
}

// OnAny registers fn for every topic.
func (e *Emitter[K, V]) OnAny(fn Listener[V]) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.any = append(e.any, subscription[V]{id: id, fn: fn})
	return func() { e.remove(nil, id) }
}

// Emit calls every listener of topic, then every catch-all listener.
func (e *Emitter[K, V]) Emit(topic K, v V) {
	e.mu.RLock()
	subs := make([]subscription[V], 0, len(e.listeners[topic])+len(e.any))
	subs = append(subs, e.listeners[topic]...)
	subs = append(subs, e.any...)
	e.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of registered listeners.
func (e *Emitter[K, V]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.any)
	for _, subs := range e.listeners {
		n += len(subs)
	}
	return n
}

// Close removes all listeners.
func (e *Emitter[K, V]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[K][]subscription[V])
	e.any = nil
}

func (e *Emitter[K, V]) remove(topic *K, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	drop := func(subs []subscription[V]) []subscription[V] {
		out := subs[:0:0]
		for _, s := range subs {
			if s.id != id {
				out = append(out, s)
			}
		}
		return out
	}
	if topic == nil {
		e.any = drop(e.any)
		return
	}
	if subs := drop(e.listeners[*topic]); len(subs) > 0 {
		e.listeners[*topic] = subs
	} else {
		delete(e.listeners, *topic)
	}
}
