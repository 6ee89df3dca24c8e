// Package registry owns every timeline the client shows.
//
// Three fixed timelines (home, mentions, messages) live for the whole run
// and are only shown or hidden. Everything else is opened by the user and
// torn down on close. Streaming search columns share one hub; the registry
// throttles how often a new search connection may be opened.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abelbrown/pingpong/internal/collection"
	"github.com/abelbrown/pingpong/internal/feed"
	"github.com/abelbrown/pingpong/internal/hub"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
	"github.com/abelbrown/pingpong/internal/timeline"
)

// ThrottleInterval is the minimum time between accepted StartStreaming calls.
const ThrottleInterval = 20 * time.Second

// maxConversation bounds the reply chain walk.
const maxConversation = 100

var (
	ErrThrottled           = errors.New("please wait before starting another search")
	ErrSearchTermsRequired = errors.New("search terms required")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("timeline not found")
	ErrShutdown            = errors.New("registry shut down")
)

// Fixed names one of the always-present timelines.
type Fixed int

const (
	FixedHome Fixed = iota
	FixedMentions
	FixedMessages
)

func (f Fixed) String() string {
	switch f {
	case FixedHome:
		return "home"
	case FixedMentions:
		return "mentions"
	case FixedMessages:
		return "messages"
	default:
		return "unknown"
	}
}

// Provider bundles the service endpoints the registry needs.
type Provider interface {
	source.Searcher
	source.Lookup

	// UserStream carries the signed-in user's home timeline and mentions.
	UserStream() source.Streamer
	// FilterStream carries public items filtered by terms.
	FilterStream() source.Streamer

	DirectMessages() source.Poller
	UserTimeline(handle string) source.Poller
	Topic(topic string) source.Poller
	List(id string) source.Poller
}

// Archive persists fixed-timeline items and polling watermarks.
type Archive interface {
	feed.WatermarkStore
	SaveItems(timeline string, items []model.Item) (int, error)
	RecentItems(timeline string, limit int) ([]model.Item, error)
}

// Options configures a Registry.
type Options struct {
	// Handle is the signed-in account; mentions are items containing "@Handle".
	Handle string

	PollInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration

	// Archive is optional.
	Archive Archive

	// OnSearchTerms receives the raw text of every accepted streaming search.
	OnSearchTerms func(string)
	// OnChange is called after the visible column set changes.
	OnChange func()
	OnUpdate func(*timeline.Timeline)
	OnError  func(*timeline.Timeline, error)

	// Clock drives the throttle. Defaults to time.Now.
	Clock func() time.Time

	Logger *log.Logger
}

// Registry is safe for concurrent use.
type Registry struct {
	provider Provider
	opts     Options
	log      *log.Logger
	throttle *rate.Limiter

	mu         sync.Mutex
	fixed      [3]*timeline.Timeline
	shown      [3]bool
	userHub    *hub.Hub
	searchHub  *hub.Hub
	messages   *feed.PollingFeed
	dynamic    []*timeline.Timeline
	columns    []*timeline.Timeline
	lastSearch string
	closed     bool
}

// New creates the fixed timelines, hidden. Nothing connects until a timeline
// is shown or opened.
func New(p Provider, opts Options) (*Registry, error) {
	if p == nil || opts.Handle == "" {
		return nil, fmt.Errorf("provider and handle are required: %w", ErrInvalidArgument)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("registry")
	}

	r := &Registry{
		provider: p,
		opts:     opts,
		log:      opts.Logger,
		throttle: rate.NewLimiter(rate.Every(ThrottleInterval), 1),
	}
	r.userHub = r.newHub("user", p.UserStream())

	r.fixed[FixedHome] = r.newTimeline("Home", timeline.Fixed(), collection.PolicyFront, false)
	r.fixed[FixedMentions] = r.newTimeline("Mentions", timeline.Fixed(), collection.PolicyFront, false)
	r.fixed[FixedMessages] = r.newTimeline("Messages", timeline.Fixed(), collection.PolicyNewest, false)
	return r, nil
}

func (r *Registry) newHub(name string, s source.Streamer) *hub.Hub {
	return hub.New(name, s,
		hub.WithBackoff(r.opts.MinBackoff, r.opts.MaxBackoff),
		hub.WithLogger(logging.Component("hub")),
	)
}

func (r *Registry) newTimeline(title string, tag timeline.Tag, policy collection.Policy, closable bool) *timeline.Timeline {
	opts := []timeline.Option{
		timeline.WithPolicy(policy),
		timeline.WithClosable(closable),
	}
	if r.opts.OnUpdate != nil {
		opts = append(opts, timeline.WithUpdateHandler(r.opts.OnUpdate))
	}
	if r.opts.OnError != nil {
		opts = append(opts, timeline.WithErrorHandler(r.opts.OnError))
	}
	return timeline.New(title, tag, opts...)
}

func (r *Registry) newPolling(name string, p source.Poller, extra ...feed.Option) *feed.PollingFeed {
	opts := []feed.Option{feed.WithInterval(r.opts.PollInterval)}
	return feed.NewPollingFeed(name, p, append(opts, extra...)...)
}

// FixedTimeline returns one of the fixed timelines.
func (r *Registry) FixedTimeline(f Fixed) *timeline.Timeline {
	return r.fixed[f]
}

// Columns returns the visible timelines in display order.
func (r *Registry) Columns() []*timeline.Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*timeline.Timeline(nil), r.columns...)
}

// Dynamic returns the user-opened timelines in opening order.
func (r *Registry) Dynamic() []*timeline.Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*timeline.Timeline(nil), r.dynamic...)
}

// SearchHub returns the hub behind the streaming search columns, or nil.
func (r *Registry) SearchHub() *hub.Hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searchHub
}

// UserHub returns the hub shared by home and mentions.
func (r *Registry) UserHub() *hub.Hub {
	return r.userHub
}

// LastSearch returns the raw text of the last accepted streaming search.
func (r *Registry) LastSearch() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSearch
}

// SetVisible shows or hides a fixed timeline. Showing starts its feed;
// hiding stops it and keeps its items.
func (r *Registry) SetVisible(f Fixed, visible bool) error {
	if f < FixedHome || f > FixedMessages {
		return fmt.Errorf("fixed timeline %d: %w", f, ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if r.shown[f] == visible {
		return nil
	}

	tl := r.fixed[f]
	if !visible {
		tl.Stop()
		r.shown[f] = false
		r.removeColumnLocked(tl)
		r.notifyChange()
		return nil
	}

	fd := r.fixedFeedLocked(f)
	if err := tl.Start(fd); err != nil {
		if rel, ok := fd.(feed.Releaser); ok {
			rel.Release()
		}
		return fmt.Errorf("show %s: %w", f, err)
	}
	r.shown[f] = true
	r.insertFixedColumnLocked(f)
	r.notifyChange()
	return nil
}

// Visible reports whether a fixed timeline is shown.
func (r *Registry) Visible(f Fixed) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown[f]
}

func (r *Registry) fixedFeedLocked(f Fixed) feed.Feed {
	switch f {
	case FixedHome:
		return r.archived("home", r.userHub.Subscribe(nil))
	case FixedMentions:
		return r.archived("mentions", r.userHub.Subscribe([]string{"@" + r.opts.Handle}))
	default:
		var extra []feed.Option
		if r.opts.Archive != nil {
			extra = append(extra, feed.WithWatermarkStore("messages", r.opts.Archive))
		} else if r.messages != nil {
			extra = append(extra, feed.WithWatermark(r.messages.Watermark()))
		}
		r.messages = r.newPolling("messages", r.provider.DirectMessages(), extra...)
		return r.archived("messages", r.messages)
	}
}

// archived backfills a fixed timeline from the archive and saves every item
// it receives. Without an archive live is returned as is.
func (r *Registry) archived(name string, live feed.Feed) feed.Feed {
	a := r.opts.Archive
	if a == nil {
		return live
	}
	recent := func(ctx context.Context) ([]model.Item, error) {
		return a.RecentItems(name, collection.MaxSize)
	}
	saving := archivingFeed{name: name, archive: a, live: live, log: r.log}
	return feed.Backfill(name, recent, saving)
}

type archivingFeed struct {
	name    string
	archive Archive
	live    feed.Feed
	log     *log.Logger
}

func (f archivingFeed) Run(ctx context.Context, emit func(feed.Event)) {
	f.live.Run(ctx, func(e feed.Event) {
		if e.Err == nil {
			if _, err := f.archive.SaveItems(f.name, []model.Item{e.Item}); err != nil {
				f.log.Warn("archive failed", "timeline", f.name, "err", err)
			}
		}
		emit(e)
	})
}

func (f archivingFeed) Release() {
	if r, ok := f.live.(feed.Releaser); ok {
		r.Release()
	}
}

// OpenProfile opens a polling column over one account's statuses.
func (r *Registry) OpenProfile(handle string) (*timeline.Timeline, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, fmt.Errorf("profile handle: %w", ErrInvalidArgument)
	}
	return r.openPolling("@"+handle, r.provider.UserTimeline(handle))
}

// OpenTopic opens a polling column over a hashtag.
func (r *Registry) OpenTopic(topic string) (*timeline.Timeline, error) {
	topic = strings.TrimPrefix(strings.TrimSpace(topic), "#")
	if topic == "" {
		return nil, fmt.Errorf("topic: %w", ErrInvalidArgument)
	}
	return r.openPolling("#"+topic, r.provider.Topic(topic))
}

// OpenList opens a polling column over a list.
func (r *Registry) OpenList(id, name string) (*timeline.Timeline, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("list id: %w", ErrInvalidArgument)
	}
	if name == "" {
		name = "list " + id
	}
	return r.openPolling(name, r.provider.List(id))
}

// OpenSearchPolling opens a column that re-runs a search every poll
// interval instead of streaming.
func (r *Registry) OpenSearchPolling(query string) (*timeline.Timeline, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrSearchTermsRequired
	}
	searcher := r.provider
	poller := source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		items, err := searcher.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		var fresh []model.Item
		for _, it := range items {
			if it.ID > since {
				fresh = append(fresh, it)
			}
		}
		return fresh, nil
	})
	return r.openPolling("search: "+query, poller)
}

func (r *Registry) openPolling(title string, p source.Poller) (*timeline.Timeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShutdown
	}

	tl := r.newTimeline(title, timeline.Polling(), collection.PolicyNewest, true)
	if err := tl.Start(r.newPolling(title, p)); err != nil {
		return nil, err
	}
	r.addDynamicLocked(tl)
	return tl, nil
}

// OpenConversation opens a column holding item and the chain of statuses it
// replies to, newest first.
func (r *Registry) OpenConversation(item model.Item) (*timeline.Timeline, error) {
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w: %v", ErrInvalidArgument, err)
	}

	lookup := r.provider
	walk := feed.Func(func(ctx context.Context, emit func(feed.Event)) {
		cur := item
		emit(feed.Event{Item: cur})
		for n := 1; cur.InReplyTo != 0 && n < maxConversation; n++ {
			parent, err := lookup.Item(ctx, cur.InReplyTo)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				emit(feed.Event{Err: fmt.Errorf("conversation %s: %w", cur.InReplyTo, err)})
				return
			}
			if parent.Validate() != nil {
				return
			}
			emit(feed.Event{Item: parent})
			cur = parent
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShutdown
	}
	tl := r.newTimeline("conversation", timeline.Conversation(), collection.PolicyEnd, true)
	if err := tl.Start(walk); err != nil {
		return nil, err
	}
	r.addDynamicLocked(tl)
	return tl, nil
}

// OpenDialog opens a column with the exchange between two accounts: both
// directions are searched in parallel and merged newest first.
func (r *Registry) OpenDialog(a, b string) (*timeline.Timeline, error) {
	a = strings.TrimPrefix(strings.TrimSpace(a), "@")
	b = strings.TrimPrefix(strings.TrimSpace(b), "@")
	if a == "" || b == "" {
		return nil, fmt.Errorf("dialog handles: %w", ErrInvalidArgument)
	}

	queries := []string{
		fmt.Sprintf("from:%s to:%s", a, b),
		fmt.Sprintf("from:%s to:%s", b, a),
	}
	fetch := func(ctx context.Context) ([]model.Item, error) {
		return r.searchAll(ctx, queries)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShutdown
	}
	tl := r.newTimeline("@"+a+" ↔ @"+b, timeline.Conversation(), collection.PolicyEnd, true)
	if err := tl.Start(feed.Once("dialog", fetch)); err != nil {
		return nil, err
	}
	r.addDynamicLocked(tl)
	return tl, nil
}

// searchAll runs queries concurrently and merges the results newest first,
// without duplicates.
func (r *Registry) searchAll(ctx context.Context, queries []string) ([]model.Item, error) {
	results := make([][]model.Item, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			items, err := r.provider.Search(gctx, q)
			if err != nil {
				return fmt.Errorf("search %q: %w", q, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[model.ID]bool)
	var merged []model.Item
	for _, batch := range results {
		for _, it := range batch {
			if !seen[it.ID] {
				seen[it.ID] = true
				merged = append(merged, it)
			}
		}
	}
	model.SortNewestFirst(merged)
	return merged, nil
}

// StartStreaming replaces the current streaming search with query: one
// column per part, all fed by a single hub over the union of the terms.
//
// Blank input returns ErrSearchTermsRequired and a call within
// ThrottleInterval of the previous accepted one returns ErrThrottled; neither
// changes any state.
func (r *Registry) StartStreaming(query string) ([]*timeline.Timeline, error) {
	parts := ParseSearch(query)
	if len(parts) == 0 {
		return nil, ErrSearchTermsRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrShutdown
	}
	if !r.throttle.AllowN(r.opts.Clock(), 1) {
		return nil, ErrThrottled
	}

	r.closeSearchesLocked()

	h := r.newHub("search", r.provider.FilterStream())
	r.searchHub = h
	subs := h.SubscribeMany(parts)

	var out []*timeline.Timeline
	for i, terms := range parts {
		terms := terms
		label := strings.Join(terms, "|")
		tl := r.newTimeline(label, timeline.Search(terms), collection.PolicyFront, true)
		backfill := func(ctx context.Context) ([]model.Item, error) {
			return r.searchAll(ctx, terms)
		}
		if err := tl.Start(feed.Backfill("search "+label, backfill, subs[i])); err != nil {
			subs[i].Release()
			continue
		}
		r.addDynamicLocked(tl)
		out = append(out, tl)
	}

	r.lastSearch = query
	r.log.Info("streaming search started", "query", query, "parts", len(parts), "terms", SearchTerms(parts))
	if r.opts.OnSearchTerms != nil {
		r.opts.OnSearchTerms(query)
	}
	return out, nil
}

// Restore reopens the streaming search saved from a previous run. Blank
// text is a no-op.
func (r *Registry) Restore(query string) error {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	_, err := r.StartStreaming(query)
	return err
}

// Close closes one user-opened timeline. Closing the last search column
// releases the search hub.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.fixed {
		if f.ID() == id {
			return timeline.ErrNotClosable
		}
	}

	var tl *timeline.Timeline
	for _, d := range r.dynamic {
		if d.ID() == id {
			tl = d
			break
		}
	}
	if tl == nil {
		return ErrNotFound
	}
	if err := tl.Close(); err != nil {
		return err
	}
	r.removeDynamicLocked(tl)

	if tl.Tag().IsSearch() && !r.hasSearchLocked() && r.searchHub != nil {
		r.searchHub.Close()
		r.searchHub = nil
	}
	r.notifyChange()
	return nil
}

// CloseSearches closes every streaming search column and its hub.
func (r *Registry) CloseSearches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeSearchesLocked() {
		r.notifyChange()
	}
}

func (r *Registry) closeSearchesLocked() bool {
	var kept []*timeline.Timeline
	closed := false
	for _, tl := range r.dynamic {
		if tl.Tag().IsSearch() {
			tl.Dispose()
			r.removeColumnLocked(tl)
			closed = true
			continue
		}
		kept = append(kept, tl)
	}
	r.dynamic = kept
	if r.searchHub != nil {
		r.searchHub.Close()
		r.searchHub = nil
	}
	return closed
}

func (r *Registry) hasSearchLocked() bool {
	for _, tl := range r.dynamic {
		if tl.Tag().IsSearch() {
			return true
		}
	}
	return false
}

// Move shifts a visible column delta places, clamped to the ends.
func (r *Registry) Move(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := -1
	for i, tl := range r.columns {
		if tl.ID() == id {
			from = i
			break
		}
	}
	if from < 0 {
		return ErrNotFound
	}

	to := from + delta
	if to < 0 {
		to = 0
	}
	if to > len(r.columns)-1 {
		to = len(r.columns) - 1
	}
	if to == from {
		return nil
	}

	tl := r.columns[from]
	r.columns = append(r.columns[:from], r.columns[from+1:]...)
	r.columns = append(r.columns[:to], append([]*timeline.Timeline{tl}, r.columns[to:]...)...)
	r.notifyChange()
	return nil
}

// Shutdown disposes every timeline and closes both hubs.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	for _, tl := range r.dynamic {
		tl.Dispose()
	}
	for _, tl := range r.fixed {
		tl.Dispose()
	}
	r.dynamic = nil
	r.columns = nil
	if r.searchHub != nil {
		r.searchHub.Close()
		r.searchHub = nil
	}
	r.userHub.Close()
	r.log.Info("registry shut down")
}

func (r *Registry) addDynamicLocked(tl *timeline.Timeline) {
	r.dynamic = append(r.dynamic, tl)
	r.columns = append(r.columns, tl)
	r.notifyChange()
}

func (r *Registry) removeDynamicLocked(tl *timeline.Timeline) {
	for i, d := range r.dynamic {
		if d == tl {
			r.dynamic = append(r.dynamic[:i], r.dynamic[i+1:]...)
			break
		}
	}
	r.removeColumnLocked(tl)
}

func (r *Registry) removeColumnLocked(tl *timeline.Timeline) {
	for i, c := range r.columns {
		if c == tl {
			r.columns = append(r.columns[:i], r.columns[i+1:]...)
			return
		}
	}
}

// insertFixedColumnLocked places a fixed timeline after the visible fixed
// timelines that precede it, ahead of user-opened columns.
func (r *Registry) insertFixedColumnLocked(f Fixed) {
	pos := 0
	for i, c := range r.columns {
		for g := FixedHome; g < f; g++ {
			if c == r.fixed[g] {
				pos = i + 1
			}
		}
	}
	tl := r.fixed[f]
	r.columns = append(r.columns[:pos], append([]*timeline.Timeline{tl}, r.columns[pos:]...)...)
}

// notifyChange runs with r.mu held; the callback must not call back into the
// registry synchronously.
func (r *Registry) notifyChange() {
	if r.opts.OnChange != nil {
		r.opts.OnChange()
	}
}
