// Package observe provides a minimal observable value: read-only state
// projections for the UI layer with synchronous watcher fan-out.
package observe

import "sync"

type watcher[T any] struct {
	id int
	fn func(T)
}

// Value is a mutex-guarded value with subscribers. Watchers are invoked
// synchronously, in registration order, on every Set.
type Value[T any] struct {
	mu     sync.Mutex
	v      T
	nextID int
	subs   []watcher[T]
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (o *Value[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v
}

// Set stores v and notifies watchers. Watchers run outside the lock so
// they may call Get or Watch without deadlocking.
func (o *Value[T]) Set(v T) {
	o.mu.Lock()
	o.v = v
	subs := make([]watcher[T], len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	for _, w := range subs {
		w.fn(v)
	}
}

// Watch registers fn and returns a cancel func. Cancel is idempotent.
func (o *Value[T]) Watch(fn func(T)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs = append(o.subs, watcher[T]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, w := range o.subs {
				if w.id == id {
					o.subs = append(o.subs[:i], o.subs[i+1:]...)
					break
				}
			}
		})
	}
}
