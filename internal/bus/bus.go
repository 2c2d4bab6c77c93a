// Package bus is the one-way publication channel between the execution
// simulator and the quoting engine: the simulator publishes typed
// fill/cancel events without taking ownership of, or holding a pointer
// into, the quoting engine.
//
// Delivery is synchronous: subscribers are invoked in the order they were
// registered, after the simulator has released its internal lock, and the
// simulator is never re-entered mid-dispatch because its drain loop pops
// all due events into a local buffer first.
package bus

import (
	"sync"

	"mm-engine/internal/types"
)

// FillHandler is called for each fill event.
type FillHandler func(types.FillEvent)

// CancelHandler is called for each cancel event.
type CancelHandler func(types.CancelEvent)

// Bus is a simple in-process publisher with synchronous, ordered delivery.
type Bus struct {
	mu             sync.Mutex
	fillHandlers   []FillHandler
	cancelHandlers []CancelHandler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// OnFill registers a fill subscriber.
func (b *Bus) OnFill(h FillHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillHandlers = append(b.fillHandlers, h)
}

// OnCancel registers a cancel subscriber.
func (b *Bus) OnCancel(h CancelHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelHandlers = append(b.cancelHandlers, h)
}

// PublishFill delivers a fill event to all subscribers in registration
// order. Must be called with the simulator's internal lock released.
func (b *Bus) PublishFill(evt types.FillEvent) {
	b.mu.Lock()
	handlers := append([]FillHandler{}, b.fillHandlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

// PublishCancel delivers a cancel event to all subscribers in registration
// order. Must be called with the simulator's internal lock released.
func (b *Bus) PublishCancel(evt types.CancelEvent) {
	b.mu.Lock()
	handlers := append([]CancelHandler{}, b.cancelHandlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}
