package notify

import "sync"

// EventType distinguishes tray changes delivered to subscribers.
type EventType string

const (
	EventShown   EventType = "shown"
	EventRemoved EventType = "removed"
)

type Event struct {
	Type         EventType    `json:"type"`
	Notification Notification `json:"notification"`
}

// Tray is the in-process set of displayed notifications, keyed by ID.
type Tray struct {
	mu     sync.RWMutex
	shown  map[int]Notification
	subs   map[int]chan Event
	nextID int
}

func NewTray() *Tray {
	return &Tray{shown: make(map[int]Notification), subs: make(map[int]chan Event)}
}

func (t *Tray) Notify(n Notification) error {
	t.mu.Lock()
	t.shown[n.ID] = n
	t.mu.Unlock()
	t.publish(Event{Type: EventShown, Notification: n})
	return nil
}

func (t *Tray) Cancel(id int) error {
	t.mu.Lock()
	n, ok := t.shown[id]
	delete(t.shown, id)
	t.mu.Unlock()
	if ok {
		t.publish(Event{Type: EventRemoved, Notification: n})
	}
	return nil
}

// Get returns the displayed notification with the given ID.
func (t *Tray) Get(id int) (Notification, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.shown[id]
	return n, ok
}

// Len is the number of distinct notifications on display.
func (t *Tray) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.shown)
}

// Subscribe returns a channel of tray events and a cancel func. Slow
// subscribers miss events rather than block the notifier.
func (t *Tray) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tray) publish(e Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
