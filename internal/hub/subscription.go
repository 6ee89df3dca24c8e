package hub

import (
	"context"
	"sync"

	"github.com/abelbrown/pingpong/internal/feed"
)

// Subscription is one sink on a Hub. Deliveries land in an unbounded mailbox
// so a slow reader never stalls the hub or its siblings.
//
// A Subscription is a feed.Feed: Run drains the mailbox into emit until ctx
// is cancelled, then unsubscribes.
type Subscription struct {
	id     uint64
	filter Filter
	hub    *Hub

	mu      sync.Mutex
	pending []feed.Event
	signal  chan struct{}
	done    chan struct{}
	ended   bool
}

func newSubscription(id uint64, f Filter, h *Hub) *Subscription {
	return &Subscription{
		id:     id,
		filter: f,
		hub:    h,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Pending returns how many events wait in the mailbox.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Done is closed once the subscription leaves its hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) deliver(e feed.Event) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, e)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.pending = nil
	close(s.done)
}

func (s *Subscription) take() []feed.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

// Run implements feed.Feed.
func (s *Subscription) Run(ctx context.Context, emit func(feed.Event)) {
	defer s.hub.Unsubscribe(s)

	for {
		for _, e := range s.take() {
			if ctx.Err() != nil {
				return
			}
			emit(e)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.signal:
		}
	}
}

// Release leaves the hub without running. It implements feed.Releaser.
func (s *Subscription) Release() {
	s.hub.Unsubscribe(s)
}
