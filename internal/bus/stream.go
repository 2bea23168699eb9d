// Package bus provides single-writer broadcast streams for publishing
// immutable state snapshots to multiple readers without blocking the writer.
package bus

import "sync"

// Stream is a latest-value broadcast channel. One writer publishes whole
// snapshots; any number of readers either poll Latest or subscribe for a
// per-subscriber channel of capacity one. A slow reader never blocks the
// writer: an unconsumed value is replaced by the newer one.
type Stream[T any] struct {
	mu     sync.Mutex
	latest T
	subs   map[int]chan T
	nextID int
}

// NewStream creates a Stream whose Latest starts at the zero value of T.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		subs: make(map[int]chan T),
	}
}

// Publish replaces the latest value and fans it out to all subscribers.
// If a subscriber has not consumed the previous value, it is dropped in
// favor of the new one (latest wins).
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = v

	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// Drain the stale value and retry once. The channel has
			// capacity 1 and we hold the lock, so this cannot race
			// with another Publish.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Latest returns the most recently published value, or the zero value of T
// if nothing has been published yet.
func (s *Stream[T]) Latest() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Subscribe registers a new reader and returns its channel together with a
// cancel function. The channel has capacity 1 and carries only whole
// snapshots. Cancel is idempotent.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan T, 1)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (s *Stream[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
