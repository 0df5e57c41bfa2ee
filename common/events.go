package common

import (
	"sync"
)

// Event fans a single notification out to registered callbacks.
//
// Callbacks run synchronously in registration order on the goroutine that
// calls Fire. Long-running work should be moved off that goroutine by the
// callback itself.
type Event struct {
	mu        sync.Mutex
	nextID    int
	callbacks []eventCallback
}

type eventCallback struct {
	id int
	fn func(data map[string]interface{})
}

// AddCallback registers a callback and returns a token for RemoveCallback.
func (e *Event) AddCallback(fn func(data map[string]interface{})) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.callbacks = append(e.callbacks, eventCallback{id: e.nextID, fn: fn})
	return e.nextID
}

// RemoveCallback unregisters the callback identified by the token returned
// from AddCallback. Unknown tokens are ignored.
func (e *Event) RemoveCallback(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, cb := range e.callbacks {
		if cb.id == id {
			e.callbacks = append(e.callbacks[:i], e.callbacks[i+1:]...)
			return
		}
	}
}

// Fire raises the event and invokes all registered callbacks.
func (e *Event) Fire(data map[string]interface{}) {
	e.mu.Lock()
	callbacks := make([]eventCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn(data)
	}
}

// Len returns the number of registered callbacks.
func (e *Event) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.callbacks)
}
