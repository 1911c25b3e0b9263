package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotPermitted is returned when a scoped subscriber asks for a kind it
// was not granted.
var ErrNotPermitted = errors.New("events: subscription not permitted")

// Subscriber can register handlers. *Bus grants every kind; Bus.Scope
// grants a subset.
type Subscriber interface {
	subscribe(kind Kind, h func(context.Context, Event)) (func(), error)
}

// Bus dispatches events to subscribers one at a time. A handler always
// runs to completion before the next one starts, so handlers never
// interleave even when events are published from several goroutines.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Kind]map[uint64]func(context.Context, Event)

	qmu         sync.Mutex
	queue       []queued
	dispatching bool
	idle        *sync.Cond
}

type queued struct {
	ctx  context.Context
	ev   Event
	done chan struct{}
}

// dispatchKey marks the context handed to handlers so a nested Publish can
// be told apart from one made by another goroutine.
type dispatchKey struct{}

// NewBus returns an empty bus.
func NewBus() *Bus {
	b := &Bus{subs: make(map[Kind]map[uint64]func(context.Context, Event))}
	b.idle = sync.NewCond(&b.qmu)
	return b
}

// Publish delivers ev to every subscriber of its kind and returns once
// they have all run. If another goroutine is dispatching, ev waits its
// turn in the queue. A handler that publishes with the context it was
// given only queues ev; it runs after the current handler returns.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	item := queued{ctx: ctx, ev: ev}
	nested := ctx.Value(dispatchKey{}) == b
	if !nested {
		item.done = make(chan struct{})
	}

	b.qmu.Lock()
	b.queue = append(b.queue, item)
	if b.dispatching {
		b.qmu.Unlock()
		if item.done != nil {
			<-item.done
		}
		return
	}
	b.dispatching = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue[0] = queued{}
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.dispatch(context.WithValue(next.ctx, dispatchKey{}, b), next.ev)
		if next.done != nil {
			close(next.done)
		}

		b.qmu.Lock()
	}
	b.dispatching = false
	b.queue = nil
	b.idle.Broadcast()
	b.qmu.Unlock()
}

// Wait blocks until no dispatch is running and the queue is empty.
func (b *Bus) Wait() {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	for b.dispatching {
		b.idle.Wait()
	}
}

// Pending returns how many events are queued behind the running dispatch.
func (b *Bus) Pending() int {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	return len(b.queue)
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]func(context.Context, Event), 0, len(b.subs[ev.Kind()]))
	for _, h := range b.subs[ev.Kind()] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

func (b *Bus) subscribe(kind Kind, h func(context.Context, Event)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]func(context.Context, Event))
	}
	b.subs[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[kind], id)
		})
	}, nil
}

// Subscribers returns how many handlers are registered for kind.
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Scope returns a subscriber that may only register for kinds.
func (b *Bus) Scope(kinds ...Kind) Subscriber {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return scoped{bus: b, allowed: allowed}
}

type scoped struct {
	bus     *Bus
	allowed map[Kind]bool
}

func (s scoped) subscribe(kind Kind, h func(context.Context, Event)) (func(), error) {
	if !s.allowed[kind] {
		return nil, fmt.Errorf("%w: %s", ErrNotPermitted, kind)
	}
	return s.bus.subscribe(kind, h)
}

// Subscribe registers a handler for events of type E and returns a func
// that removes it.
func Subscribe[E Event](sub Subscriber, h func(context.Context, E)) (func(), error) {
	var zero E
	return sub.subscribe(zero.Kind(), func(ctx context.Context, ev Event) {
		if e, ok := ev.(E); ok {
			h(ctx, e)
		}
	})
}
