package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// DefaultInterval is the time between the end of one fetch and the start of
// the next.
const DefaultInterval = 60 * time.Second

// State is a PollingFeed's position in its loop.
type State int

const (
	Idle State = iota
	Fetching
	Waiting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Waiting:
		return "waiting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WatermarkStore persists watermarks across runs.
type WatermarkStore interface {
	Watermark(feed string) (model.ID, error)
	SetWatermark(feed string, id model.ID) error
}

// PollingFeed turns a fetch-since primitive into an endless item sequence on
// a fixed cadence. Only one fetch is ever outstanding: the timer for the next
// tick is armed after the current fetch settles, so ticks never overlap and
// never race on the watermark.
type PollingFeed struct {
	name     string
	poller   source.Poller
	interval time.Duration
	log      *log.Logger

	store    WatermarkStore // optional
	storeKey string

	mu        sync.Mutex
	watermark model.ID
	state     State
	started   bool
}

// Option configures a PollingFeed.
type Option func(*PollingFeed)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(f *PollingFeed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithWatermark seeds the since cursor.
func WithWatermark(id model.ID) Option {
	return func(f *PollingFeed) {
		f.watermark = id
	}
}

// WithWatermarkStore loads the watermark for key when the feed starts and
// saves it after every batch that advances it.
func WithWatermarkStore(key string, s WatermarkStore) Option {
	return func(f *PollingFeed) {
		f.storeKey = key
		f.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *PollingFeed) {
		f.log = l
	}
}

// NewPollingFeed creates a feed named name over p.
func NewPollingFeed(name string, p source.Poller, opts ...Option) *PollingFeed {
	f := &PollingFeed{
		name:     name,
		poller:   p,
		interval: DefaultInterval,
		log:      logging.Component("poll"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the feed name.
func (f *PollingFeed) Name() string {
	return f.name
}

// Watermark returns the highest id observed so far, zero before the first
// successful fetch. It never decreases.
func (f *PollingFeed) Watermark() model.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

// State returns the current loop state.
func (f *PollingFeed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *PollingFeed) setState(s State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Stopped {
		return
	}
	f.state = s
}

// Run fetches immediately, then every interval after each fetch settles,
// until ctx is cancelled. Stopped is terminal: a feed runs at most once.
func (f *PollingFeed) Run(ctx context.Context, emit func(Event)) {
	f.mu.Lock()
	if f.started || f.state == Stopped {
		f.mu.Unlock()
		f.log.Warn("polling feed already used", "feed", f.name)
		return
	}
	f.started = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.state = Stopped
		f.mu.Unlock()
	}()

	f.loadWatermark()

	for {
		f.tick(ctx, emit)
		if ctx.Err() != nil {
			return
		}

		f.setState(Waiting)
		timer := time.NewTimer(f.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tick performs one fetch and emits its result. A result that settles after
// cancellation is discarded.
func (f *PollingFeed) tick(ctx context.Context, emit func(Event)) {
	f.setState(Fetching)
	since := f.Watermark()

	items, err := f.poller.FetchSince(ctx, since)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		f.log.Warn("fetch failed", "feed", f.name, "since", since, "err", err)
		emit(Event{Err: fmt.Errorf("%s: %w", f.name, err)})
		return
	}

	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		if err := it.Validate(); err != nil {
			f.log.Warn("dropping malformed item", "feed", f.name, "err", err)
			continue
		}
		emit(Event{Item: it})
		f.advance(it.ID)
	}

	if wm := f.Watermark(); wm > since {
		f.log.Debug("watermark advanced", "feed", f.name, "from", since, "to", wm, "items", len(items))
		f.saveWatermark(wm)
	}
}

func (f *PollingFeed) advance(id model.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id > f.watermark {
		f.watermark = id
	}
}

func (f *PollingFeed) loadWatermark() {
	if f.store == nil {
		return
	}
	id, err := f.store.Watermark(f.storeKey)
	if err != nil {
		f.log.Warn("load watermark failed", "feed", f.name, "err", err)
		return
	}
	f.advance(id)
}

func (f *PollingFeed) saveWatermark(id model.ID) {
	if f.store == nil {
		return
	}
	if err := f.store.SetWatermark(f.storeKey, id); err != nil {
		f.log.Warn("save watermark failed", "feed", f.name, "err", err)
	}
}
