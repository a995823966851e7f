// Package notify carries change notifications from content writers to the
// cache. Delivery is at-least-once with no ordering guarantee across ids, so
// consumers must tolerate duplicates and out-of-order arrival.
//
// Wiring is explicit: the cache subscribes at construction and deregisters
// at teardown through the func returned by Subscribe. There is no global
// bus.
package notify

import (
	"fmt"
	"sync"
)

// Kind classifies a change payload.
type Kind int

const (
	// RefreshAll requests a full reload from the backing store.
	RefreshAll Kind = iota
	// RefreshNode requests a single-entity refresh (fetch + splice).
	RefreshNode
	// RemoveNode requests removal of an id and its subtree.
	RemoveNode
	// TypeChanged signals a content-type change. Structural changes
	// (rename, property removal, deletion) cascade to a rebuild; cosmetic
	// ones are ignored.
	TypeChanged
)

func (k Kind) String() string {
	switch k {
	case RefreshAll:
		return "refresh-all"
	case RefreshNode:
		return "refresh-node"
	case RemoveNode:
		return "remove-node"
	case TypeChanged:
		return "type-changed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Payload is one change notification.
type Payload struct {
	Kind Kind
	// IDs are the affected entity ids (RefreshNode, RemoveNode).
	IDs []int64
	// TypeTags are the affected content-type tags (TypeChanged).
	TypeTags []string
	// Structural marks a TypeChanged payload with structural impact.
	Structural bool
}

// Handler consumes one batch of payloads. A non-nil error from the handler
// is surfaced to the publisher — an unsupported payload kind is a contract
// violation and must fail fast, not be swallowed.
type Handler func(batch []Payload) error

// Bus fans batches out to subscribers synchronously. No delivery order
// across subscribers is guaranteed.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its deregistration func.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers a batch to every subscriber. The first handler error
// stops delivery and is returned.
func (b *Bus) Publish(batch ...Payload) error {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(batch); err != nil {
			return err
		}
	}
	return nil
}
