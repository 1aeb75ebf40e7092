package app

import "sync"

// Subscription is a handle for one registered signaling handler. Dropping
// a handler is structural: call Cancel, no matching unregister closure to
// remember. Cancel is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

// handlerSet fans one event out to every registered handler, in
// registration order. Handlers filter by call id themselves.
type handlerSet[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []handlerEntry[T]
}

func (h *handlerSet[T]) add(fn func(T)) *Subscription {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.entries = append(h.entries, handlerEntry[T]{id: id, fn: fn})
	h.mu.Unlock()

	return &Subscription{cancel: func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.entries {
			if e.id == id {
				h.entries = append(h.entries[:i], h.entries[i+1:]...)
				break
			}
		}
	}}
}

func (h *handlerSet[T]) dispatch(v T) {
	h.mu.Lock()
	entries := make([]handlerEntry[T], len(h.entries))
	copy(entries, h.entries)
	h.mu.Unlock()

	for _, e := range entries {
		e.fn(v)
	}
}
