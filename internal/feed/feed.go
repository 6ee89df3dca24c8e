// Package feed turns sources into the item sequences timelines consume.
//
// A Feed is an attachment: a timeline runs it on its own goroutine with a
// cancellable context and an emit callback that funnels into the timeline's
// single consumer. Cancelling the context is the only stop mechanism.
package feed

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
)

// Event is one delivery: an item, or a transient error to surface.
type Event struct {
	Item model.Item
	Err  error
}

// Feed produces events until ctx is cancelled or, for finite feeds, until
// it runs out. Emit may block; implementations stop emitting once ctx is done.
type Feed interface {
	Run(ctx context.Context, emit func(Event))
}

// Func adapts a function to Feed.
type Func func(ctx context.Context, emit func(Event))

// Run calls f.
func (f Func) Run(ctx context.Context, emit func(Event)) {
	f(ctx, emit)
}

// Releaser is implemented by feeds that hold resources before they run, such
// as a hub subscription. A wrapper that ends without running such a feed must
// release it.
type Releaser interface {
	Release()
}

func release(f Feed) {
	if r, ok := f.(Releaser); ok {
		r.Release()
	}
}

// SnapshotFunc fetches a finite batch of items.
type SnapshotFunc func(ctx context.Context) ([]model.Item, error)

type onceFeed struct {
	name  string
	fetch SnapshotFunc
	log   *log.Logger
}

// Once returns a finite feed that emits one snapshot in the order fetch
// returns it, then ends. Conversation and dialog columns use it.
func Once(name string, fetch SnapshotFunc) Feed {
	return &onceFeed{name: name, fetch: fetch, log: logging.Component("feed")}
}

func (f *onceFeed) Run(ctx context.Context, emit func(Event)) {
	items, err := f.fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		f.log.Warn("snapshot failed", "feed", f.name, "err", err)
		emit(Event{Err: fmt.Errorf("%s: %w", f.name, err)})
		return
	}
	emitValid(ctx, f.log, f.name, items, emit)
}

type backfillFeed struct {
	name  string
	fetch SnapshotFunc
	live  Feed
	log   *log.Logger
}

// Backfill emits a snapshot oldest first, so a front-inserting timeline ends
// up newest first, then hands over to live. A failed snapshot is reported and
// the live feed still starts.
func Backfill(name string, fetch SnapshotFunc, live Feed) Feed {
	return &backfillFeed{name: name, fetch: fetch, live: live, log: logging.Component("feed")}
}

func (f *backfillFeed) Run(ctx context.Context, emit func(Event)) {
	items, err := f.fetch(ctx)
	if ctx.Err() != nil {
		release(f.live)
		return
	}
	if err != nil {
		f.log.Warn("backfill failed", "feed", f.name, "err", err)
		emit(Event{Err: fmt.Errorf("%s backfill: %w", f.name, err)})
	} else {
		items = append([]model.Item(nil), items...)
		model.SortOldestFirst(items)
		emitValid(ctx, f.log, f.name, items, emit)
	}
	if ctx.Err() != nil {
		release(f.live)
		return
	}
	f.live.Run(ctx, emit)
}

// emitValid emits items in order, dropping malformed ones. Returns the
// largest emitted id.
func emitValid(ctx context.Context, l *log.Logger, name string, items []model.Item, emit func(Event)) model.ID {
	var max model.ID
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if err := it.Validate(); err != nil {
			l.Warn("dropping malformed item", "feed", name, "err", err)
			continue
		}
		emit(Event{Item: it})
		if it.ID > max {
			max = it.ID
		}
	}
	return max
}
