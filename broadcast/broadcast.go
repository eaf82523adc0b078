// Package broadcast implements the per-shard fan-out bus: one sender (the
// dispatcher), many receivers (client sessions), each with its own bounded
// ring buffer so one slow client can never block the sender or the other
// subscribers. A subscriber that falls behind observes Lagged rather than
// silently missing frames, since the gateway's sequencing contract forbids
// silent gaps.
package broadcast

import "sync"

// DefaultCapacity is the default per-subscriber ring size, sized for a few
// seconds of peak event rate.
const DefaultCapacity = 250

// Message is one published item: the raw dispatch payload text plus the
// byte span of its s field, as reported by the deserializer, so a
// subscriber can splice its own sequence number in without a full
// re-serialize.
type Message struct {
	Payload        []byte
	SequenceOffset int
	SequenceLength int
}

// Lagged is returned by Subscription.Recv when a subscriber fell behind and
// messages were dropped for it. N is the number of dropped messages.
type Lagged struct {
	N int
}

func (l Lagged) Error() string { return "broadcast: subscriber lagged" }

// Bus is a single-sender, multi-receiver fan-out channel for one shard.
type Bus struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[*Subscription]struct{}
	closed      bool
}

// New creates a Bus with the given per-subscriber ring capacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		capacity:    capacity,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscription is one subscriber's view of the bus: a private ring buffer
// fed by Publish, drained by Recv.
type Subscription struct {
	bus *Bus

	mu      sync.Mutex
	ring    []Message
	head    int
	size    int
	dropped int
	notify  chan struct{}
	closed  bool
}

// Subscribe registers a new subscriber. The subscription point defines the
// earliest live message this subscriber will observe; anything published
// before Subscribe returns is never delivered to it.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:    b,
		ring:   make([]Message, b.capacity),
		notify: make(chan struct{}, 1),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		return s
	}
	b.subscribers[s] = struct{}{}
	return s
}

// Unsubscribe releases a subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
}

// Publish fans msg out to every current subscriber. Never blocks: a
// subscriber whose ring is full has its oldest message dropped and its lag
// counter incremented instead.
func (b *Bus) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subscribers {
		s.push(msg)
	}
}

// Close shuts the bus down; every subscriber's next Recv observes end of
// stream (ok == false), matching the shard-shutdown cancellation contract.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subscribers {
		s.closeLocked()
	}
	b.subscribers = make(map[*Subscription]struct{})
}

func (s *Subscription) push(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.size == len(s.ring) {
		// Ring is full: drop the oldest message for this subscriber only.
		s.head = (s.head + 1) % len(s.ring)
		s.size--
		s.dropped++
	}

	tail := (s.head + s.size) % len(s.ring)
	s.ring[tail] = msg
	s.size++

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) closeLocked() {
	s.closed = true
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recv blocks until a message is available, the subscription is closed, or
// done fires. ok is false once the bus is closed and the ring has drained.
// If the subscriber lagged since the previous Recv, err is a Lagged with
// the drop count and msg is the zero value — the caller must terminate the
// client rather than continue.
func (s *Subscription) Recv(done <-chan struct{}) (msg Message, err error, ok bool) {
	for {
		s.mu.Lock()
		if s.dropped > 0 {
			n := s.dropped
			s.dropped = 0
			s.mu.Unlock()
			return Message{}, Lagged{N: n}, true
		}
		if s.size > 0 {
			msg = s.ring[s.head]
			s.ring[s.head] = Message{}
			s.head = (s.head + 1) % len(s.ring)
			s.size--
			s.mu.Unlock()
			return msg, nil, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Message{}, nil, false
		}

		select {
		case <-s.notify:
			continue
		case <-done:
			return Message{}, nil, false
		}
	}
}

// Close releases this subscription from its bus. Idempotent.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
