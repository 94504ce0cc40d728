package pipeline

import "sync"

// Hub wakes goroutines waiting on a dream. Every Publish closes the current
// channel for the key and the next Subscribe hands out a fresh one, so a
// waiter must subscribe before reading state to avoid missing a change.
type Hub struct {
	mu    sync.Mutex
	chans map[string]*subscription
}

type subscription struct {
	ch      chan struct{}
	waiters int
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{chans: make(map[string]*subscription)}
}

// Subscribe returns a channel closed on the next Publish for key, and a
// leave func the waiter calls once it stops listening. The last waiter to
// leave drops the key.
func (h *Hub) Subscribe(key string) (<-chan struct{}, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.chans[key]
	if !ok {
		sub = &subscription{ch: make(chan struct{})}
		h.chans[key] = sub
	}
	sub.waiters++

	var once sync.Once
	leave := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			sub.waiters--
			if sub.waiters == 0 && h.chans[key] == sub {
				delete(h.chans, key)
			}
		})
	}
	return sub.ch, leave
}

// Publish wakes every current subscriber of key.
func (h *Hub) Publish(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.chans[key]; ok {
		close(sub.ch)
		delete(h.chans, key)
	}
}

// Len reports how many keys have listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chans)
}
