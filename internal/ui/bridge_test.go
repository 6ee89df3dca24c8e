package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/timeline"
)

type chanSender chan tea.Msg

func (c chanSender) Send(msg tea.Msg) { c <- msg }

func TestBridgeCoalesces(t *testing.T) {
	b := NewBridge()
	home := timeline.New("Home", timeline.Fixed(), timeline.WithLogger(logging.Discard()))
	search := timeline.New("go", timeline.Search([]string{"go"}), timeline.WithLogger(logging.Discard()))
	boom := errors.New("boom")

	// Everything recorded before the pump runs arrives as one Refresh.
	b.Updated(home)
	b.Updated(search)
	b.Updated(home)
	b.Failed(search, boom)
	b.Changed()

	sent := make(chanSender, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, sent)

	var r Refresh
	select {
	case msg := <-sent:
		r = msg.(Refresh)
	case <-time.After(2 * time.Second):
		t.Fatal("no Refresh sent")
	}

	if len(r.Updated) != 2 || r.Updated[0] != home.ID() || r.Updated[1] != search.ID() {
		t.Errorf("updated = %v, want home then search once each", r.Updated)
	}
	if !r.Columns {
		t.Error("expected column change")
	}
	if len(r.Errors) != 1 || r.Errors[0].ID != search.ID() || r.Errors[0].Err != boom {
		t.Errorf("errors = %+v", r.Errors)
	}

	// Pending state was drained.
	if _, ok := b.take(); ok {
		t.Error("state should be empty after a Refresh")
	}

	b.Updated(home)
	select {
	case msg := <-sent:
		if r := msg.(Refresh); len(r.Updated) != 1 || r.Columns {
			t.Errorf("second refresh = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no second Refresh")
	}
}

func TestBridgeCallbacksNeverBlock(t *testing.T) {
	b := NewBridge()
	tl := timeline.New("Home", timeline.Fixed(), timeline.WithLogger(logging.Discard()))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Updated(tl)
			b.Changed()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks blocked without a running pump")
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	b := NewBridge()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.Run(ctx, make(chanSender))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
