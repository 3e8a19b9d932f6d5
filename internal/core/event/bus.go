package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered message bus. Messages emitted in tick N are
// readable in tick N+1; messages delivered in tick N are readable by systems
// that run later in tick N. SwapBuffers() is called at tick start by the
// frame system.
type Bus struct {
	mu       sync.Mutex
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]any
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]any),
	}
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues a message into the back buffer (readable next tick).
func Emit[T any](b *Bus, msg T) {
	t := typeKey[T]()
	b.mu.Lock()
	b.back[t] = append(b.back[t], msg)
	b.mu.Unlock()
}

// Deliver appends a message to the front buffer so systems later in the
// current tick observe it.
func Deliver[T any](b *Bus, msg T) {
	t := typeKey[T]()
	b.mu.Lock()
	b.front[t] = append(b.front[t], msg)
	b.mu.Unlock()
}

// Read returns a copy of the readable messages of type T.
func Read[T any](b *Bus) []T {
	t := typeKey[T]()
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.front[t]
	out := make([]T, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.(T))
	}
	return out
}

// Subscribe registers a typed handler for messages of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeKey[T]()
	b.handlers[t] = append(b.handlers[t], fn)
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers all front-buffer messages to their subscribed handlers.
func (b *Bus) DispatchAll() {
	b.mu.Lock()
	pending := make(map[reflect.Type][]any, len(b.front))
	for t, events := range b.front {
		if len(events) > 0 {
			pending[t] = append([]any(nil), events...)
		}
	}
	handlers := make(map[reflect.Type][]any, len(b.handlers))
	for t, hs := range b.handlers {
		handlers[t] = append([]any(nil), hs...)
	}
	b.mu.Unlock()

	for t, events := range pending {
		for _, ev := range events {
			for _, h := range handlers[t] {
				// Safe because Subscribe and Emit use the same type key.
				callHandler(h, ev)
			}
		}
	}
}

func callHandler(handler any, event any) {
	reflect.ValueOf(handler).Call([]reflect.Value{reflect.ValueOf(event)})
}
