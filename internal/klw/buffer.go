package klw

import (
	"fmt"
	"sync"
)

// BufferEvent is the outcome of adding an instruction to a Buffer.
type BufferEvent int

const (
	// BufferUnchanged means the stored instruction was identical.
	BufferUnchanged BufferEvent = iota
	// BufferAdd means the uid was not present before.
	BufferAdd
	// BufferChange means the uid was present with different bytes.
	BufferChange
)

func (e BufferEvent) String() string {
	switch e {
	case BufferAdd:
		return "add"
	case BufferChange:
		return "change"
	default:
		return "unchanged"
	}
}

// BufferListener receives add/change notifications. A listener that returns
// an error or panics is logged and unregistered.
type BufferListener func(ev BufferEvent, uid string, ins Instruction) error

type bufferListener struct {
	key string
	gen uint64
	fn  BufferListener
}

// Buffer keeps the last instruction seen per uid for one category.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners run after the update is stored, outside the buffer lock, on
//     the goroutine that called Add.
type Buffer struct {
	category Category
	name     string
	logger   Logger

	mu      sync.Mutex
	entries map[string]Instruction
	order   []string

	listenMu  sync.Mutex
	listeners []bufferListener
	gen       uint64
}

// NewBuffer creates an empty buffer. name distinguishes buffers that share a
// category id (the infrared index shares the cache id).
func NewBuffer(category Category, name string, logger Logger) *Buffer {
	return &Buffer{
		category: category,
		name:     name,
		logger:   orNop(logger),
		entries:  make(map[string]Instruction),
	}
}

// Category returns the category id the buffer reports to listeners.
func (b *Buffer) Category() Category { return b.category }

// Name returns the buffer name.
func (b *Buffer) Name() string { return b.name }

// Add stores ins under the uid built from the given byte positions.
func (b *Buffer) Add(ins Instruction, indices ...int) BufferEvent {
	return b.store(ins, ins.UID(indices...), nil)
}

// AddIgnoring is Add with a set of byte positions excluded from the
// change comparison.
func (b *Buffer) AddIgnoring(ins Instruction, ignore []int, indices ...int) BufferEvent {
	return b.store(ins, ins.UID(indices...), ignore)
}

// AddWithUID stores ins under an explicit uid, used when an instruction
// belongs to an identity computed by another category.
func (b *Buffer) AddWithUID(ins Instruction, uid string) BufferEvent {
	return b.store(ins, uid, nil)
}

func (b *Buffer) store(ins Instruction, uid string, ignore []int) BufferEvent {
	b.mu.Lock()
	prev, ok := b.entries[uid]
	var ev BufferEvent
	switch {
	case !ok:
		b.entries[uid] = ins
		b.order = append(b.order, uid)
		ev = BufferAdd
	case !prev.Equal(ins, ignore...):
		b.entries[uid] = ins
		ev = BufferChange
	default:
		ev = BufferUnchanged
	}
	b.mu.Unlock()

	if ev != BufferUnchanged {
		b.dispatch(ev, uid, ins)
	}
	return ev
}

// Get returns the instruction stored under uid.
func (b *Buffer) Get(uid string) (Instruction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ins, ok := b.entries[uid]
	return ins, ok
}

// First returns the earliest stored instruction still in the buffer.
func (b *Buffer) First() (Instruction, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) == 0 {
		return Instruction{}, false
	}
	return b.entries[b.order[0]], true
}

// Len returns the number of stored uids.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Snapshot returns a copy of the stored entries.
func (b *Buffer) Snapshot() map[string]Instruction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Instruction, len(b.entries))
	for k, v := range b.entries {
		out[k] = v
	}
	return out
}

// Clear drops every stored entry. Listeners stay registered.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = make(map[string]Instruction)
	b.order = nil
	b.mu.Unlock()
}

// Listen registers fn under key, replacing any listener with the same key.
func (b *Buffer) Listen(key string, fn BufferListener) {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	b.gen++
	for i := range b.listeners {
		if b.listeners[i].key == key {
			b.listeners[i].fn = fn
			b.listeners[i].gen = b.gen
			return
		}
	}
	b.listeners = append(b.listeners, bufferListener{key: key, gen: b.gen, fn: fn})
}

// Unlisten removes the listener registered under key.
func (b *Buffer) Unlisten(key string) {
	b.remove(key, 0)
}

// remove drops the listener under key. A non-zero gen only matches the
// registration it was taken from, so a listener re-registered during
// dispatch survives the removal of its failed predecessor.
func (b *Buffer) remove(key string, gen uint64) {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	for i := range b.listeners {
		if b.listeners[i].key != key {
			continue
		}
		if gen == 0 || b.listeners[i].gen == gen {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
		}
		return
	}
}

// Listeners returns the registered listener keys.
func (b *Buffer) Listeners() []string {
	b.listenMu.Lock()
	defer b.listenMu.Unlock()
	keys := make([]string, len(b.listeners))
	for i, l := range b.listeners {
		keys[i] = l.key
	}
	return keys
}

// UnlistenAll removes every listener.
func (b *Buffer) UnlistenAll() {
	b.listenMu.Lock()
	b.listeners = nil
	b.listenMu.Unlock()
}

func (b *Buffer) dispatch(ev BufferEvent, uid string, ins Instruction) {
	b.listenMu.Lock()
	listeners := make([]bufferListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.listenMu.Unlock()

	for _, l := range listeners {
		if err := b.invoke(l, ev, uid, ins); err != nil {
			b.logger.Error("buffer listener failed, removing",
				"buffer", b.name, "listener", l.key, "uid", uid, "error", err)
			b.remove(l.key, l.gen)
		}
	}
}

func (b *Buffer) invoke(l bufferListener, ev BufferEvent, uid string, ins Instruction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.fn(ev, uid, ins)
}
