// Package timeline implements one UI column: a bounded, de-duplicated item
// list fed by exactly one attachment at a time.
//
// All writes to a timeline's collection happen on its own consumer goroutine.
// Attachments run on their own goroutines and hand events over through the
// inbox channel, tagged with the generation they were started under so that
// anything still in flight from a replaced attachment is dropped.
package timeline

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/abelbrown/pingpong/internal/collection"
	"github.com/abelbrown/pingpong/internal/feed"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
)

var (
	// ErrNotClosable is returned by Close on a fixed timeline.
	ErrNotClosable = errors.New("timeline is not closable")

	// ErrDisposed is returned by operations on a disposed timeline.
	ErrDisposed = errors.New("timeline disposed")

	// ErrAlreadyStarted is returned by Start while an attachment is running.
	ErrAlreadyStarted = errors.New("timeline already started")
)

// State is the timeline lifecycle position.
type State int

const (
	// Created means no attachment is running. A stopped timeline returns here
	// with its items kept.
	Created State = iota
	Starting
	Active
	Stopping
	Disposed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

const inboxSize = 64

type envelope struct {
	gen uint64
	ev  feed.Event
	end bool
}

type attachment struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Timeline is a single column.
type Timeline struct {
	id       string
	title    string
	tag      Tag
	closable bool
	items    *collection.Collection
	log      *log.Logger

	onUpdate func(*Timeline)
	onError  func(*Timeline, error)

	inbox chan envelope
	quit  chan struct{}

	// ctl serializes Start, ReplaceSubscription, Stop and Dispose.
	ctl sync.Mutex

	mu       sync.Mutex
	state    State
	busy     bool
	gen      uint64
	att      *attachment
	lastErr  error
	consumer bool
}

// Option configures a Timeline.
type Option func(*config)

type config struct {
	closable bool
	policy   collection.Policy
	capacity int
	log      *log.Logger
	onUpdate func(*Timeline)
	onError  func(*Timeline, error)
}

// WithClosable sets whether the user may close the timeline. Default true.
func WithClosable(c bool) Option {
	return func(cfg *config) { cfg.closable = c }
}

// WithPolicy sets the collection insertion policy. Default PolicyFront.
func WithPolicy(p collection.Policy) Option {
	return func(cfg *config) { cfg.policy = p }
}

// WithCapacity overrides collection.MaxSize.
func WithCapacity(n int) Option {
	return func(cfg *config) { cfg.capacity = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(cfg *config) { cfg.log = l }
}

// WithUpdateHandler is called on the consumer goroutine after every change to
// the items or the busy flag.
func WithUpdateHandler(fn func(*Timeline)) Option {
	return func(cfg *config) { cfg.onUpdate = fn }
}

// WithErrorHandler receives every error the attachment reports.
func WithErrorHandler(fn func(*Timeline, error)) Option {
	return func(cfg *config) { cfg.onError = fn }
}

// New creates a timeline in the Created state.
func New(title string, tag Tag, opts ...Option) *Timeline {
	cfg := config{
		closable: true,
		policy:   collection.PolicyFront,
		log:      logging.Component("timeline"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Timeline{
		id:       uuid.NewString(),
		title:    title,
		tag:      tag,
		closable: cfg.closable,
		items:    collection.New(cfg.capacity, cfg.policy),
		log:      cfg.log,
		onUpdate: cfg.onUpdate,
		onError:  cfg.onError,
		inbox:    make(chan envelope, inboxSize),
		quit:     make(chan struct{}),
	}
}

func (t *Timeline) ID() string     { return t.id }
func (t *Timeline) Title() string  { return t.title }
func (t *Timeline) Tag() Tag       { return t.tag }
func (t *Timeline) Closable() bool { return t.closable }

// Items returns the held items, newest first.
func (t *Timeline) Items() []model.Item {
	return t.items.Items()
}

// Len returns the number of held items.
func (t *Timeline) Len() int {
	return t.items.Len()
}

// Busy is true from Start until the first item arrives or a finite
// attachment completes.
func (t *Timeline) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

// State returns the lifecycle state.
func (t *Timeline) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the most recent attachment error, if any.
func (t *Timeline) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Start attaches f and begins consuming it.
func (t *Timeline) Start(f feed.Feed) error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	t.mu.Lock()
	switch {
	case t.state == Disposed:
		t.mu.Unlock()
		return ErrDisposed
	case t.att != nil:
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.mu.Unlock()

	t.attach(f)
	return nil
}

// ReplaceSubscription cancels the running attachment, waits for it to exit,
// then attaches f. Items are kept; the collection de-duplicates overlap.
func (t *Timeline) ReplaceSubscription(f feed.Feed) error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	if t.State() == Disposed {
		return ErrDisposed
	}
	t.detach()
	t.attach(f)
	return nil
}

// Stop cancels the attachment but keeps the items, so the timeline can be
// started again later.
func (t *Timeline) Stop() {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	t.mu.Lock()
	if t.state == Disposed || t.att == nil {
		t.mu.Unlock()
		return
	}
	t.state = Stopping
	t.mu.Unlock()

	t.detach()

	t.mu.Lock()
	t.state = Created
	t.busy = false
	t.mu.Unlock()
}

// Close disposes the timeline if the user may close it.
func (t *Timeline) Close() error {
	if !t.closable {
		return ErrNotClosable
	}
	t.Dispose()
	return nil
}

// Dispose cancels the attachment, clears the items and ends the consumer.
// It is idempotent.
func (t *Timeline) Dispose() {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	t.mu.Lock()
	if t.state == Disposed {
		t.mu.Unlock()
		return
	}
	t.state = Stopping
	t.mu.Unlock()

	t.detach()

	t.mu.Lock()
	t.state = Disposed
	t.busy = false
	t.items.Clear()
	t.mu.Unlock()

	close(t.quit)
	t.log.Debug("disposed", "timeline", t.title, "tag", t.tag)
}

// attach must be called with ctl held and no attachment running.
func (t *Timeline) attach(f feed.Feed) {
	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.gen++
	a := &attachment{gen: t.gen, cancel: cancel, done: make(chan struct{})}
	t.att = a
	t.busy = true
	t.state = Starting
	if !t.consumer {
		t.consumer = true
		go t.consume()
	}
	t.mu.Unlock()

	go t.runAttachment(ctx, a, f)
}

// detach must be called with ctl held. It returns once the attachment's
// goroutine has exited; events it already queued are dropped by generation.
func (t *Timeline) detach() {
	t.mu.Lock()
	a := t.att
	t.att = nil
	t.gen++
	t.mu.Unlock()

	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (t *Timeline) runAttachment(ctx context.Context, a *attachment, f feed.Feed) {
	defer close(a.done)

	send := func(env envelope) {
		select {
		case t.inbox <- env:
		case <-ctx.Done():
		}
	}
	f.Run(ctx, func(e feed.Event) {
		send(envelope{gen: a.gen, ev: e})
	})
	if ctx.Err() == nil {
		send(envelope{gen: a.gen, end: true})
	}
}

func (t *Timeline) consume() {
	for {
		select {
		case env := <-t.inbox:
			t.handle(env)
		case <-t.quit:
			return
		}
	}
}

func (t *Timeline) handle(env envelope) {
	t.mu.Lock()
	if env.gen != t.gen || t.state == Disposed {
		t.mu.Unlock()
		return
	}

	switch {
	case env.end:
		t.busy = false
		t.state = Active
		t.mu.Unlock()
		t.notifyUpdate()

	case env.ev.Err != nil:
		t.lastErr = env.ev.Err
		t.mu.Unlock()
		t.log.Warn("attachment error", "timeline", t.title, "err", env.ev.Err)
		if t.onError != nil {
			t.onError(t, env.ev.Err)
		}

	default:
		item := env.ev.Item
		if err := item.Validate(); err != nil {
			t.mu.Unlock()
			t.log.Warn("dropping malformed item", "timeline", t.title, "err", err)
			return
		}
		wasBusy := t.busy
		t.busy = false
		t.state = Active
		inserted := t.items.Append(item)
		t.mu.Unlock()

		if inserted || wasBusy {
			t.notifyUpdate()
		}
	}
}

func (t *Timeline) notifyUpdate() {
	if t.onUpdate != nil {
		t.onUpdate(t)
	}
}
