package session

import "sync"

// Listener receives the session after every store mutation. A nil session
// means the session was cleared.
type Listener func(*Session)

// Notifier is an in-process change signal for session mutations. Consumers
// subscribe explicitly rather than polling the store.
type Notifier struct {
	lock      sync.Mutex
	nextID    int
	listeners map[int]Listener
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns a function that removes it.
func (n *Notifier) Subscribe(l Listener) (unsubscribe func()) {
	n.lock.Lock()
	defer n.lock.Unlock()

	id := n.nextID
	n.nextID++
	n.listeners[id] = l

	return func() {
		n.lock.Lock()
		defer n.lock.Unlock()
		delete(n.listeners, id)
	}
}

// broadcast invokes every listener with the current session. Listeners run
// synchronously on the mutating goroutine, matching the single-threaded
// event model the store was designed for.
func (n *Notifier) broadcast(s *Session) {
	n.lock.Lock()
	snapshot := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		snapshot = append(snapshot, l)
	}
	n.lock.Unlock()

	for _, l := range snapshot {
		l(s)
	}
}
