// SPDX-License-Identifier: MIT

// Package broadcast provides bounded multi-consumer fan-out. Each
// subscriber owns a buffered channel; when a subscriber falls behind,
// the oldest queued value is dropped so publishers never block.
package broadcast

import "sync"

// DefaultBufferSize is the per-subscriber queue depth.
const DefaultBufferSize = 64

// Hub fans values out to any number of subscribers.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	buffer int
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to size values, or
// DefaultBufferSize when size <= 0.
func NewHub[T any](size int) *Hub[T] {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub[T]{
		subs:   make(map[int]chan T),
		buffer: size,
	}
}

// Subscribe registers a new consumer. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan T, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers v to every subscriber. A full subscriber queue
// loses its oldest value to make room; Publish itself never blocks.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		for {
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Len reports the current number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts every subscriber channel. Publishing after Close is a
// no-op.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
