package events

import "sync"

// Handler observes events of one kind.
type Handler func(Event)

// Bus is a typed observer registry: for each kind it keeps an ordered list
// of handlers, invoked synchronously in registration order. It is safe for
// concurrent subscription and emission.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe appends h to the handler list for kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Emit delivers e to every handler registered for its kind, in order,
// on the calling goroutine.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	hs := b.handlers[e.Kind]
	b.mu.RUnlock()

	for _, h := range hs {
		h(e)
	}
}

// HasHandlers reports whether any observer is registered for kind. The
// LOGIN handler uses this to fail fast instead of waiting on an
// acknowledgement nobody will resolve.
func (b *Bus) HasHandlers(kind Kind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind]) > 0
}
