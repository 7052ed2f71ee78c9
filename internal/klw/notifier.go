package klw

import (
	"fmt"
	"sync"
)

// EventType names a notification a consumer can subscribe to.
type EventType string

const (
	EventLoginSuccess    EventType = "login-success"
	EventLoginFailure    EventType = "login-failure"
	EventConnectionState EventType = "connection-state-changed"
	EventDeviceChanged   EventType = "device-changed"
)

// Event is delivered to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	// State is the new connection state for EventConnectionState.
	State State

	// Err describes a login failure.
	Err error

	// Record and IsNew describe a device change.
	Record Record
	IsNew  bool
}

// Handler receives events. Panics are recovered and logged.
type Handler func(Event)

const defaultEventQueueSize = 256

type subscription struct {
	id uint64
	fn Handler
}

// Notifier fans events out to subscribers.
//
// By default handlers run synchronously on the emitting goroutine, in
// subscription order. NewQueuedNotifier moves delivery to a dedicated
// goroutine so slow consumers cannot stall frame parsing; order is kept.
type Notifier struct {
	logger Logger

	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64

	queue   chan Event
	done    *closeOnce
	wg      sync.WaitGroup
	dropped uint64
}

// NewNotifier creates a synchronous notifier.
func NewNotifier(logger Logger) *Notifier {
	return &Notifier{
		logger: orNop(logger),
		subs:   make(map[EventType][]subscription),
		done:   newCloseOnce(),
	}
}

// NewQueuedNotifier creates a notifier that delivers from its own goroutine.
// Events are dropped (and counted) when the queue is full.
func NewQueuedNotifier(logger Logger, size int) *Notifier {
	if size <= 0 {
		size = defaultEventQueueSize
	}
	n := NewNotifier(logger)
	n.queue = make(chan Event, size)
	n.wg.Add(1)
	go n.dispatchLoop()
	return n
}

// Subscribe registers fn for events of type t and returns a function that
// removes it.
func (n *Notifier) Subscribe(t EventType, fn Handler) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[t] = append(n.subs[t], subscription{id: id, fn: fn})
	n.mu.Unlock()

	return func() { n.remove(t, id) }
}

func (n *Notifier) remove(t EventType, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	subs := n.subs[t]
	for i := range subs {
		if subs[i].id == id {
			n.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// RemoveAll drops every subscription.
func (n *Notifier) RemoveAll() {
	n.mu.Lock()
	n.subs = make(map[EventType][]subscription)
	n.mu.Unlock()
}

// Emit delivers ev to the subscribers of ev.Type.
func (n *Notifier) Emit(ev Event) {
	if n.queue == nil {
		n.deliver(ev)
		return
	}
	if n.done.IsClosed() {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.logger.Warn("event queue full, dropping event", "event", string(ev.Type))
	}
}

// Dropped returns the number of events lost to a full queue.
func (n *Notifier) Dropped() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dropped
}

// Close stops the dispatcher of a queued notifier after draining it.
func (n *Notifier) Close() {
	n.done.Close()
	n.wg.Wait()
}

func (n *Notifier) dispatchLoop() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.queue:
			n.deliver(ev)
		case <-n.done.Done():
			for {
				select {
				case ev := <-n.queue:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	n.mu.RLock()
	subs := make([]subscription, len(n.subs[ev.Type]))
	copy(subs, n.subs[ev.Type])
	n.mu.RUnlock()

	for _, s := range subs {
		n.invoke(s, ev)
	}
}

func (n *Notifier) invoke(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("event handler panic", "event", string(ev.Type), "error", fmt.Errorf("%v", r))
		}
	}()
	s.fn(ev)
}
