// Package notify carries the two index-lifecycle signals the core emits —
// "reload started" and "reload completed" — to whichever UI or logging layer
// cares to subscribe. Publishing works fine with zero subscribers.
package notify

import "sync"

// Kind identifies a lifecycle signal.
type Kind int

const (
	// ReloadStarted is emitted when an index rebuild/reload begins.
	ReloadStarted Kind = iota

	// ReloadCompleted is emitted when it finishes; Event.Success tells how.
	ReloadCompleted
)

// Event is one lifecycle signal.
type Event struct {
	Kind    Kind
	Success bool
}

// Broadcaster fans Events out to subscribers. Delivery is best-effort: a
// subscriber that stops draining its channel loses events rather than
// blocking the publisher.
//
// The zero value is ready to use. All methods are safe for concurrent use.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is buffered; cancel closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, 8)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers ev to all current subscribers without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishReloadStarted emits a ReloadStarted event. Nil receivers are a
// no-op so optional wiring stays simple.
func (b *Broadcaster) PublishReloadStarted() {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: ReloadStarted})
}

// PublishReloadCompleted emits a ReloadCompleted event.
func (b *Broadcaster) PublishReloadCompleted(success bool) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: ReloadCompleted, Success: success})
}
