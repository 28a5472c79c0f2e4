package manager

import "sync"

// Broadcaster fans events out to live subscribers such as websocket clients.
// A subscriber that falls behind loses events instead of stalling the pool.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buf    int
}

// NewBroadcaster creates a Broadcaster whose subscriber channels buffer buf events.
func NewBroadcaster(buf int) *Broadcaster {
	if buf <= 0 {
		buf = 64
	}
	return &Broadcaster{subs: make(map[int]chan Event), buf: buf}
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns an event channel and a function that unsubscribes and
// closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buf)
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
