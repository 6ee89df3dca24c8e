// Package hub shares one live stream connection among many subscribers.
//
// The hub connects lazily when the first subscriber arrives and disconnects
// when the last one leaves. The connection is opened with the union of every
// subscriber's terms and each received item is routed to the subscribers
// whose own filter matches it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/pingpong/internal/feed"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// Reconnect backoff bounds. The delay starts at DefaultMinBackoff, doubles
// after each failed attempt up to DefaultMaxBackoff, and resets once a
// connection succeeds.
const (
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = 320 * time.Second
)

// State is the hub's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// connection is one run of the connect/read/reconnect loop for a fixed
// term set. A term change replaces it.
type connection struct {
	terms  []string
	cancel context.CancelFunc
	done   chan struct{}
}

// Hub multiplexes a source.Streamer.
type Hub struct {
	name       string
	streamer   source.Streamer
	log        *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	subs   []*Subscription
	nextID uint64
	conn   *connection
	state  State
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(min, max time.Duration) Option {
	return func(h *Hub) {
		if min > 0 {
			h.minBackoff = min
		}
		if max >= h.minBackoff {
			h.maxBackoff = max
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(h *Hub) {
		h.log = l
	}
}

// New creates a disconnected hub over s.
func New(name string, s source.Streamer, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		streamer:   s,
		log:        logging.Component("hub"),
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the hub name.
func (h *Hub) Name() string {
	return h.name
}

// State returns the connection state.
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Terms returns the terms of the live connection. Nil with a positive
// subscriber count means unfiltered.
func (h *Hub) Terms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	return append([]string(nil), h.conn.terms...)
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribe adds one subscriber. Nil or empty terms subscribe unfiltered.
func (h *Hub) Subscribe(terms []string) *Subscription {
	return h.SubscribeMany([][]string{terms})[0]
}

// SubscribeMany adds a batch of subscribers under one connection decision,
// so a multi-part search opens a single connection.
func (h *Hub) SubscribeMany(termSets [][]string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Subscription, len(termSets))
	reconnect := false
	for i, terms := range termSets {
		h.nextID++
		sub := newSubscription(h.nextID, NewFilter(terms), h)
		out[i] = sub
		if h.closed {
			sub.end()
			continue
		}
		h.subs = append(h.subs, sub)
		if h.conn != nil && !covers(h.conn.terms, sub.filter) {
			reconnect = true
		}
	}
	if h.closed || len(h.subs) == 0 {
		return out
	}

	switch {
	case h.conn == nil:
		h.connectLocked()
	case reconnect:
		h.log.Info("term set changed, reconnecting", "hub", h.name)
		h.conn.cancel()
		h.connectLocked()
	}
	return out
}

// Unsubscribe removes sub. The last removal disconnects. Removing never
// reconnects, so the live terms may stay a superset of what is needed.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subs {
		if s == sub {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			break
		}
	}
	sub.end()

	if len(h.subs) == 0 && h.conn != nil {
		h.log.Debug("last subscriber left, disconnecting", "hub", h.name)
		h.conn.cancel()
		h.conn = nil
		h.state = Disconnected
	}
}

// Close ends every subscription and waits for the connection to wind down.
// A closed hub hands out already-ended subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = nil
	conn := h.conn
	h.conn = nil
	h.state = Disconnected
	h.mu.Unlock()

	for _, s := range subs {
		s.end()
	}
	if conn != nil {
		conn.cancel()
		<-conn.done
	}
}

func (h *Hub) connectLocked() {
	filters := make([]Filter, len(h.subs))
	for i, s := range h.subs {
		filters[i] = s.filter
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		terms:  unionTerms(filters),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.conn = c
	h.state = Connecting
	go h.run(ctx, c)
}

// setState records s if c is still the live connection.
func (h *Hub) setState(c *connection, s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == c {
		h.state = s
	}
}

func (h *Hub) run(ctx context.Context, c *connection) {
	defer close(c.done)

	backoff := h.minBackoff
	for ctx.Err() == nil {
		stream, err := h.streamer.OpenStream(ctx, c.terms)
		if ctx.Err() != nil {
			if stream != nil {
				stream.Close()
			}
			return
		}
		if err != nil {
			h.log.Warn("connect failed", "hub", h.name, "retry", backoff, "err", err)
			h.broadcast(c, feed.Event{Err: fmt.Errorf("%s: connect: %w", h.name, err)})
		} else {
			backoff = h.minBackoff
			h.setState(c, Connected)
			h.log.Info("connected", "hub", h.name, "terms", c.terms)

			err = h.read(ctx, c, stream)
			if ctx.Err() != nil {
				return
			}
			h.log.Warn("stream dropped", "hub", h.name, "retry", backoff, "err", err)
			h.broadcast(c, feed.Event{Err: fmt.Errorf("%s: stream: %w", h.name, err)})
		}

		h.setState(c, Reconnecting)
		if !sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > h.maxBackoff {
			backoff = h.maxBackoff
		}
	}
}

// read pumps one stream until it fails. Malformed records are skipped.
func (h *Hub) read(ctx context.Context, c *connection, stream source.Stream) error {
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer func() {
		stop()
		stream.Close()
	}()

	for {
		item, err := stream.Next()
		if err != nil {
			if errors.Is(err, source.ErrMalformed) {
				h.log.Warn("skipping malformed record", "hub", h.name, "err", err)
				continue
			}
			return err
		}
		if err := item.Validate(); err != nil {
			h.log.Warn("skipping invalid item", "hub", h.name, "err", err)
			continue
		}
		h.dispatch(c, item)
	}
}

// dispatch routes item to every matching subscriber of the live connection.
func (h *Hub) dispatch(c *connection, item model.Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != c {
		return
	}
	for _, s := range h.subs {
		if s.filter.Matches(item) {
			s.deliver(feed.Event{Item: item})
		}
	}
}

func (h *Hub) broadcast(c *connection, e feed.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != c {
		return
	}
	for _, s := range h.subs {
		s.deliver(e)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
