package sse

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

const subscriberQueueSize = 100

// envelope is one queued, already-framed event for a single subscriber.
type envelope struct {
	ID    string
	Event string
	Data  []byte
}

// Subscriber is one connected event-stream client. Its queue is bounded; on
// overflow the oldest event is dropped so slow clients cannot stall dispatch.
type Subscriber struct {
	id     string
	mu     sync.Mutex
	queue  []envelope
	wake   chan struct{}
	closed bool
}

// Next blocks until an event is queued or the subscriber is closed.
// The bool result is false once the subscriber is closed and drained.
func (s *Subscriber) Next(cancel <-chan struct{}) (envelope, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return envelope{}, false
		}

		select {
		case <-s.wake:
		case <-cancel:
			return envelope{}, false
		}
	}
}

func (s *Subscriber) push(ev envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= subscriberQueueSize {
		// latest events win, the oldest is dropped
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Bus fans events out to all subscribers. Within one subscriber events keep
// dispatch order; across subscribers no ordering is guaranteed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*Subscriber)}
}

func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{
		id:   uuid.NewString(),
		wake: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	log.Printf("sse: subscriber %s added, %d connected", sub.id, count)
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	count := len(b.subscribers)
	b.mu.Unlock()
	sub.close()

	log.Printf("sse: subscriber %s removed, %d connected", sub.id, count)
}

// Dispatch fans the event out to every connected subscriber.
func (b *Bus) Dispatch(e Event) {
	data := encode(e)

	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.push(envelope{ID: uuid.NewString(), Event: e.EventName(), Data: data})
	}
}

// DispatchTo queues the event for a single subscriber only (used for the
// onetime information record and initial state replay on connect).
func (b *Bus) DispatchTo(sub *Subscriber, e Event) {
	sub.push(envelope{ID: uuid.NewString(), Event: e.EventName(), Data: encode(e)})
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
