// Package eventbus delivers workspace lifecycle events to subscribers.
//
// Delivery is synchronous and in subscription order, so a subscriber sees
// the events of one workspace in the order the runtime published them.
// Handlers must not block for long; they run on the publishing goroutine.
package eventbus

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/lzjever/mbos-wrt/internal/core"
)

// Handler receives published events.
type Handler func(core.LifecycleEvent)

// Filter selects the events a subscriber is interested in.
type Filter func(core.LifecycleEvent) bool

type subscriber struct {
	id      uint64
	handler Handler
	filter  Filter
}

type Bus struct {
	log *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

func New(log *zap.Logger) *Bus {
	return &Bus{log: log}
}

// Subscription is returned by Subscribe and detaches the handler.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s.id) })
}

// Subscribe registers h. A nil filter accepts every event.
func (b *Bus) Subscribe(h Handler, filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscriber{id: b.nextID, handler: h, filter: filter})
	return &Subscription{bus: b, id: b.nextID}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish hands ev to every matching subscriber. A panicking handler is
// logged and does not affect the others.
func (b *Bus) Publish(ev core.LifecycleEvent) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscriber, ev core.LifecycleEvent) {
	defer func() {
		if rvr := recover(); rvr != nil {
			b.log.Error("event handler panicked",
				zap.String("wsid", ev.WorkspaceID),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", rvr),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	s.handler(ev)
}

// ForWorkspace accepts only events of the given workspace.
func ForWorkspace(wsid string) Filter {
	return func(ev core.LifecycleEvent) bool {
		return ev.WorkspaceID == wsid
	}
}

// OfType accepts only the listed event types.
func OfType(types ...core.EventType) Filter {
	set := make(map[core.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(ev core.LifecycleEvent) bool {
		return set[ev.Type]
	}
}
