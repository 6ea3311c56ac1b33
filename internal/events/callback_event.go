package events

import (
	"sync"
)

// CallbackEvent provides pub/sub behavior with type-safe callbacks.
// T is the type of the argument passed to callback functions.
//
// Prefer ChannelEvent when the listener has its own goroutine; CallbackEvent
// is for listeners that just want to run a small function inline with the
// notification (the routine flow controller observing session state, for
// example).
type CallbackEvent[T any] struct {
	mu                    sync.RWMutex
	listeners             map[uint64]func(T)
	nextID                uint64
	sendLastEventOnListen bool
	lastEvent             *T
	hasNotified           bool
}

// NewCallbackEvent creates a new CallbackEvent instance.
// sendLastEventOnListen: if true, new listeners are invoked immediately with
// the last Notify value, if any.
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		listeners:             make(map[uint64]func(T)),
		sendLastEventOnListen: sendLastEventOnListen,
	}
}

// Listen registers a callback to be invoked on Notify.
// Returns a deregistration function that removes the listener.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = callback
	var replay *T
	if e.sendLastEventOnListen && e.hasNotified && e.lastEvent != nil {
		v := *e.lastEvent
		replay = &v
	}
	e.mu.Unlock()

	// Invoke outside the lock to avoid deadlock with callbacks that call
	// back into the event.
	if replay != nil {
		callback(*replay)
	}

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify invokes all registered callbacks with the provided value.
func (e *CallbackEvent[T]) Notify(value T) {
	e.mu.Lock()
	if e.sendLastEventOnListen {
		if e.lastEvent == nil {
			e.lastEvent = new(T)
		}
		*e.lastEvent = value
		e.hasNotified = true
	}
	targets := make([]func(T), 0, len(e.listeners))
	for _, cb := range e.listeners {
		targets = append(targets, cb)
	}
	e.mu.Unlock()

	for _, cb := range targets {
		cb(value)
	}
}

// ListenerCount returns the current number of registered listeners.
func (e *CallbackEvent[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}
