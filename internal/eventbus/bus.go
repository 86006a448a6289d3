// Package eventbus implements the typed subscribe/unsubscribe fan-out
// called for in spec §9 ("replace multicast delegates with a typed bus
// exposing subscribe(handler) → unsubscribe(); strong references with
// explicit lifetime suffice").
package eventbus

import "sync"

// Bus is a typed, multi-producer multi-consumer event fan-out. The zero
// value is not usable; construct with New.
type Bus[T any] struct {
	mu    sync.Mutex
	next  int
	subs  map[int]func(T)
}

// New constructs an empty Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers handler and returns an unsubscribe function. Handlers
// run synchronously, on the publisher's goroutine, in unspecified order.
func (b *Bus[T]) Subscribe(handler func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// SubscribeOnce registers a handler that unsubscribes itself after its
// first invocation; the CacheManager uses it to receive the one terminal
// event of each dispatch it launches.
func (b *Bus[T]) SubscribeOnce(handler func(T)) (unsubscribe func()) {
	var unsub func()
	unsub = b.Subscribe(func(v T) {
		unsub()
		handler(v)
	})
	return unsub
}

// Publish delivers event to every currently subscribed handler. A snapshot
// of subscribers is taken under the lock so a handler that subscribes or
// unsubscribes during delivery cannot deadlock or skip siblings.
func (b *Bus[T]) Publish(event T) {
	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
