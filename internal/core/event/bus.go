package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted in tick N are readable
// in tick N+1. SwapBuffers is called at tick start by the dispatch system.
// Event types are delivered in the order they were first emitted.
type Bus struct {
	mu       sync.Mutex // only protects handler registration
	front    *buffer
	back     *buffer
	handlers map[reflect.Type][]func(any)
}

type buffer struct {
	order  []reflect.Type
	events map[reflect.Type][]any
}

func newBuffer() *buffer {
	return &buffer{events: make(map[reflect.Type][]any)}
}

func (b *buffer) push(t reflect.Type, ev any) {
	list, seen := b.events[t]
	if !seen || len(list) == 0 {
		b.order = append(b.order, t)
	}
	b.events[t] = append(list, ev)
}

func (b *buffer) reset() {
	for _, t := range b.order {
		b.events[t] = b.events[t][:0]
	}
	b.order = b.order[:0]
}

func NewBus() *Bus {
	return &Bus{
		front:    newBuffer(),
		back:     newBuffer(),
		handlers: make(map[reflect.Type][]func(any)),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event into the back buffer (will be readable next tick).
func Emit[T any](b *Bus, event T) {
	b.back.push(typeOf[T](), event)
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeOf[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front
	b.back.reset()
}

// DispatchAll delivers all front-buffer events to their subscribed handlers.
// Handlers may Emit; those events land in the back buffer for next tick.
func (b *Bus) DispatchAll() {
	for _, t := range b.front.order {
		handlers := b.handlers[t]
		for _, ev := range b.front.events[t] {
			for _, h := range handlers {
				h(ev)
			}
		}
	}
}
