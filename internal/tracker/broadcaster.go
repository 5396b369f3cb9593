package tracker

import (
	"sync"

	"adsb_feeds/internal/models"
)

// DefaultSubscriberBuffer is the channel capacity given to each subscriber
const DefaultSubscriberBuffer = 256

// Subscription receives tracker events until Close is called.
// Events are dropped, not queued, when C is full.
type Subscription struct {
	C <-chan models.TrackerEvent

	ch     chan models.TrackerEvent
	b      *Broadcaster
	closed bool
}

// Close detaches the subscription and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

// Broadcaster fans events out to any number of subscribers without ever
// blocking the publisher
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a subscription that sees events published from now on
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan models.TrackerEvent, b.buffer)
	sub := &Subscription{C: ch, ch: ch, b: b}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers ev to every subscriber with room for it
func (b *Broadcaster) Publish(ev models.TrackerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Len returns the number of live subscriptions
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub)
	close(sub.ch)
}
