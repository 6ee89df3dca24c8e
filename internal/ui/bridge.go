package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/pingpong/internal/timeline"
)

// Sender is the part of *tea.Program the Bridge uses.
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge carries registry and timeline callbacks to the program. Callbacks
// never block: they mark state dirty and a single pump goroutine sends one
// coalesced Refresh at a time. Registry callbacks run with the registry lock
// held, so sending from them directly could stall against View.
type Bridge struct {
	mu      sync.Mutex
	updated map[string]bool
	order   []string
	columns bool
	errs    []TimelineError
	signal  chan struct{}
}

// NewBridge creates an idle bridge.
func NewBridge() *Bridge {
	return &Bridge{
		updated: make(map[string]bool),
		signal:  make(chan struct{}, 1),
	}
}

// Updated records new items or a busy change on tl.
func (b *Bridge) Updated(tl *timeline.Timeline) {
	b.mu.Lock()
	if !b.updated[tl.ID()] {
		b.updated[tl.ID()] = true
		b.order = append(b.order, tl.ID())
	}
	b.mu.Unlock()
	b.wake()
}

// Failed records a feed error on tl.
func (b *Bridge) Failed(tl *timeline.Timeline, err error) {
	b.mu.Lock()
	b.errs = append(b.errs, TimelineError{ID: tl.ID(), Err: err})
	b.mu.Unlock()
	b.wake()
}

// Changed records a change in the visible column set.
func (b *Bridge) Changed() {
	b.mu.Lock()
	b.columns = true
	b.mu.Unlock()
	b.wake()
}

func (b *Bridge) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// take swaps out the pending state. ok is false when nothing is pending.
func (b *Bridge) take() (Refresh, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) == 0 && !b.columns && len(b.errs) == 0 {
		return Refresh{}, false
	}
	r := Refresh{Updated: b.order, Columns: b.columns, Errors: b.errs}
	b.updated = make(map[string]bool)
	b.order = nil
	b.columns = false
	b.errs = nil
	return r, true
}

// Run pumps Refresh messages to s until ctx is done.
func (b *Bridge) Run(ctx context.Context, s Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.signal:
		}
		if r, ok := b.take(); ok {
			s.Send(r)
		}
	}
}
