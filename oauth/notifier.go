package oauth

import "sync"

// Event names a manager lifecycle notification.
type Event string

const (
	// EventLogin fires after a successful login response, before the new
	// credentials are installed.
	EventLogin Event = "login"
	// EventLogout fires after a successful logout, once storage is cleared.
	EventLogout Event = "logout"
)

// Notifier fans lifecycle events out to subscribers.
type Notifier struct {
	mu        sync.Mutex
	next      uint64
	listeners map[Event][]listener
}

type listener struct {
	id uint64
	fn func()
}

// NewNotifier returns a Notifier without subscribers.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[Event][]listener)}
}

// Subscribe registers fn for ev and returns a function that removes it.
// The returned function may be called any number of times.
func (n *Notifier) Subscribe(ev Event, fn func()) (unsubscribe func()) {
	n.mu.Lock()
	n.next++
	id := n.next
	n.listeners[ev] = append(n.listeners[ev], listener{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(ev, id) })
	}
}

func (n *Notifier) remove(ev Event, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ls := n.listeners[ev]
	for i, l := range ls {
		if l.id == id {
			n.listeners[ev] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// Emit calls every subscriber of ev in subscription order. Subscribers run
// on the calling goroutine, outside the notifier's lock.
func (n *Notifier) Emit(ev Event) {
	n.mu.Lock()
	ls := append([]listener(nil), n.listeners[ev]...)
	n.mu.Unlock()

	for _, l := range ls {
		l.fn()
	}
}

// Len returns the number of subscribers of ev.
func (n *Notifier) Len(ev Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners[ev])
}
