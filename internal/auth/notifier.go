package auth

import (
	"sync"
	"time"
)

// EventKind identifies a session change.
type EventKind string

const (
	EventSignedIn  EventKind = "signed_in"
	EventSignedOut EventKind = "signed_out"
	EventExpired   EventKind = "expired"
)

type Event struct {
	Kind   EventKind
	UserID string
	At     time.Time
}

// Notifier fans session events out to subscribers.
//
// Subscribe returns the function that removes the listener; calling it more
// than once is a no-op. Listeners run synchronously on the publishing
// goroutine and must not block.
type Notifier struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[int]func(Event))}
}

func (n *Notifier) Subscribe(fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	n.mu.RLock()
	fns := make([]func(Event), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len reports the number of active subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
