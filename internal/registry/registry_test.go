package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
	"github.com/abelbrown/pingpong/internal/source/sourcetest"
	"github.com/abelbrown/pingpong/internal/timeline"
)

type fakeProvider struct {
	user   *sourcetest.Streamer
	filter *sourcetest.Streamer
	dms    *sourcetest.Poller

	mu       sync.Mutex
	pollers  map[string]*sourcetest.Poller
	searches map[string][]model.Item
	queries  []string
	items    map[model.ID]model.Item
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		user:     sourcetest.NewStreamer(),
		filter:   sourcetest.NewStreamer(),
		dms:      sourcetest.NewPoller(),
		pollers:  make(map[string]*sourcetest.Poller),
		searches: make(map[string][]model.Item),
		items:    make(map[model.ID]model.Item),
	}
}

func (p *fakeProvider) UserStream() source.Streamer         { return p.user }
func (p *fakeProvider) FilterStream() source.Streamer       { return p.filter }
func (p *fakeProvider) DirectMessages() source.Poller       { return p.dms }
func (p *fakeProvider) UserTimeline(h string) source.Poller { return p.poller("user:" + h) }
func (p *fakeProvider) Topic(t string) source.Poller        { return p.poller("topic:" + t) }
func (p *fakeProvider) List(id string) source.Poller        { return p.poller("list:" + id) }

func (p *fakeProvider) poller(key string) *sourcetest.Poller {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pollers[key]; !ok {
		p.pollers[key] = sourcetest.NewPoller()
	}
	return p.pollers[key]
}

func (p *fakeProvider) Search(ctx context.Context, q string) ([]model.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, q)
	return p.searches[q], nil
}

func (p *fakeProvider) Item(ctx context.Context, id model.ID) (model.Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.items[id]
	if !ok {
		return model.Item{}, errors.New("no such status")
	}
	return it, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T, p *fakeProvider, mutate ...func(*Options)) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts := Options{
		Handle:       "me",
		PollInterval: time.Hour,
		MinBackoff:   time.Millisecond,
		MaxBackoff:   2 * time.Millisecond,
		Clock:        clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	r, err := New(p, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Shutdown)
	return r, clock
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func nextStream(t *testing.T, s *sourcetest.Streamer) *sourcetest.Stream {
	t.Helper()
	select {
	case st := <-s.Opened():
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

func ids(items []model.Item) []model.ID {
	out := make([]model.ID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestParseSearch(t *testing.T) {
	tests := []struct {
		in   string
		want [][]string
	}{
		{"alpha beta|gamma", [][]string{{"alpha"}, {"beta", "gamma"}}},
		{"foo bar|baz", [][]string{{"foo"}, {"bar", "baz"}}},
		{"a,b;c", [][]string{{"a"}, {"b"}, {"c"}}},
		{"  a   b  ", [][]string{{"a"}, {"b"}}},
		{"a||b", [][]string{{"a", "b"}}},
		{"|", nil},
		{" , ; ", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := ParseSearch(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseSearch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSearchTermsUnion(t *testing.T) {
	got := SearchTerms([][]string{{"a"}, {"b", "a"}, {"c"}})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("SearchTerms = %v", got)
	}
}

func TestStreamingSearchOneConnectionPerQuery(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	tls, err := r.StartStreaming("alpha beta|gamma")
	if err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}
	if len(tls) != 2 {
		t.Fatalf("timelines = %d, want 2", len(tls))
	}
	if !reflect.DeepEqual(tls[0].Tag().Terms, []string{"alpha"}) {
		t.Errorf("first column terms = %v", tls[0].Tag().Terms)
	}
	if !reflect.DeepEqual(tls[1].Tag().Terms, []string{"beta", "gamma"}) {
		t.Errorf("second column terms = %v", tls[1].Tag().Terms)
	}

	st := nextStream(t, p.filter)
	if !reflect.DeepEqual(st.Terms(), []string{"alpha", "beta", "gamma"}) {
		t.Errorf("connection terms = %v", st.Terms())
	}

	st.Send(model.Item{ID: 10, Body: "gamma rays"})
	eventually(t, func() bool { return tls[1].Len() == 1 })
	if tls[0].Len() != 0 {
		t.Errorf("alpha column received %v", ids(tls[0].Items()))
	}

	time.Sleep(10 * time.Millisecond)
	if n := len(p.filter.Opens()); n != 1 {
		t.Errorf("connections opened = %d, want 1", n)
	}
	if r.LastSearch() != "alpha beta|gamma" {
		t.Errorf("LastSearch = %q", r.LastSearch())
	}
}

func TestStreamingSearchBackfill(t *testing.T) {
	p := newFakeProvider()
	p.searches["beta"] = []model.Item{{ID: 3, Body: "beta"}, {ID: 1, Body: "beta"}}
	p.searches["gamma"] = []model.Item{{ID: 2, Body: "gamma"}, {ID: 3, Body: "beta gamma"}}
	r, _ := newTestRegistry(t, p)

	tls, err := r.StartStreaming("beta|gamma")
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return tls[0].Len() == 3 })
	if got := ids(tls[0].Items()); !reflect.DeepEqual(got, []model.ID{3, 2, 1}) {
		t.Errorf("backfilled = %v, want [3 2 1]", got)
	}
}

func TestStreamingThrottle(t *testing.T) {
	p := newFakeProvider()
	var saved []string
	r, clock := newTestRegistry(t, p, func(o *Options) {
		o.OnSearchTerms = func(q string) { saved = append(saved, q) }
	})

	if _, err := r.StartStreaming("first"); err != nil {
		t.Fatalf("first search: %v", err)
	}
	before := r.Dynamic()

	clock.Advance(10 * time.Second)
	if _, err := r.StartStreaming("second"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("search after 10s = %v, want ErrThrottled", err)
	}
	if got := r.Dynamic(); len(got) != len(before) || got[0] != before[0] {
		t.Error("throttled search changed the open timelines")
	}
	if r.LastSearch() != "first" {
		t.Errorf("LastSearch = %q after throttled call", r.LastSearch())
	}

	clock.Advance(10 * time.Second)
	if _, err := r.StartStreaming("  ,; "); !errors.Is(err, ErrSearchTermsRequired) {
		t.Fatalf("blank search = %v, want ErrSearchTermsRequired", err)
	}
	// The blank attempt must not have used up the allowance.
	if _, err := r.StartStreaming("third"); err != nil {
		t.Fatalf("search after 20s = %v, want accepted", err)
	}

	if !reflect.DeepEqual(saved, []string{"first", "third"}) {
		t.Errorf("saved terms = %v", saved)
	}
}

func TestNewSearchReplacesPrevious(t *testing.T) {
	p := newFakeProvider()
	r, clock := newTestRegistry(t, p)

	old, err := r.StartStreaming("a b")
	if err != nil {
		t.Fatal(err)
	}
	first := nextStream(t, p.filter)

	clock.Advance(ThrottleInterval)
	if _, err := r.StartStreaming("c"); err != nil {
		t.Fatal(err)
	}
	second := nextStream(t, p.filter)

	for _, tl := range old {
		if tl.State() != timeline.Disposed {
			t.Errorf("old column %q state = %v", tl.Title(), tl.State())
		}
	}
	eventually(t, first.Closed)
	if !reflect.DeepEqual(second.Terms(), []string{"c"}) {
		t.Errorf("new connection terms = %v", second.Terms())
	}
	if n := len(r.Dynamic()); n != 1 {
		t.Errorf("dynamic timelines = %d, want 1", n)
	}
}

func TestClosingLastSearchReleasesHub(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	tls, err := r.StartStreaming("a b")
	if err != nil {
		t.Fatal(err)
	}
	st := nextStream(t, p.filter)
	h := r.SearchHub()

	if err := r.Close(tls[0].ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.SearchHub() == nil {
		t.Fatal("hub released while a search column remains")
	}
	eventually(t, func() bool { return h.SubscriberCount() == 1 })

	if err := r.Close(tls[1].ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if r.SearchHub() != nil {
		t.Error("hub kept after the last search column closed")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d, want 0", h.SubscriberCount())
	}
	eventually(t, st.Closed)
}

func TestClosingPollingColumnLeavesHub(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	if _, err := r.StartStreaming("a"); err != nil {
		t.Fatal(err)
	}
	st := nextStream(t, p.filter)

	profile, err := r.OpenProfile("@alice")
	if err != nil {
		t.Fatal(err)
	}
	if profile.Title() != "@alice" {
		t.Errorf("title = %q", profile.Title())
	}
	if err := r.Close(profile.ID()); err != nil {
		t.Fatal(err)
	}

	if r.SearchHub() == nil || r.SearchHub().SubscriberCount() != 1 {
		t.Error("closing a profile column touched the search hub")
	}
	if st.Closed() {
		t.Error("closing a profile column closed the search connection")
	}
}

func TestCloseSearches(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	r.StartStreaming("a b|c")
	topic, _ := r.OpenTopic("golang")
	r.CloseSearches()

	dyn := r.Dynamic()
	if len(dyn) != 1 || dyn[0] != topic {
		t.Errorf("dynamic after CloseSearches = %d timelines", len(dyn))
	}
	if r.SearchHub() != nil {
		t.Error("search hub survived CloseSearches")
	}
}

func TestFixedTimelinesNotClosable(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	for _, f := range []Fixed{FixedHome, FixedMentions, FixedMessages} {
		err := r.Close(r.FixedTimeline(f).ID())
		if !errors.Is(err, timeline.ErrNotClosable) {
			t.Errorf("Close(%s) = %v, want ErrNotClosable", f, err)
		}
	}
	if err := r.Close("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Close(unknown) = %v, want ErrNotFound", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	checks := []struct {
		name string
		err  error
	}{
		{"profile", second(r.OpenProfile(" "))},
		{"topic", second(r.OpenTopic("#"))},
		{"list", second(r.OpenList("", "x"))},
		{"conversation", second(r.OpenConversation(model.Item{}))},
		{"dialog", second(r.OpenDialog("a", ""))},
	}
	for _, c := range checks {
		if !errors.Is(c.err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", c.name, c.err)
		}
	}
	if _, err := r.OpenSearchPolling(""); !errors.Is(err, ErrSearchTermsRequired) {
		t.Errorf("polling search: err = %v", err)
	}
	if len(r.Dynamic()) != 0 {
		t.Error("rejected calls opened timelines")
	}
	if _, err := New(p, Options{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New without handle = %v", err)
	}
}

func second(_ *timeline.Timeline, err error) error { return err }

func TestHomeAndMentionsShareUserStream(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	if err := r.SetVisible(FixedHome, true); err != nil {
		t.Fatal(err)
	}
	st := nextStream(t, p.user)
	if err := r.SetVisible(FixedMentions, true); err != nil {
		t.Fatal(err)
	}

	st.Send(model.Item{ID: 1, Body: "plain status"})
	st.Send(model.Item{ID: 2, Body: "hey @me look"})

	home := r.FixedTimeline(FixedHome)
	mentions := r.FixedTimeline(FixedMentions)
	eventually(t, func() bool { return home.Len() == 2 })
	eventually(t, func() bool { return mentions.Len() == 1 })
	if mentions.Items()[0].ID != 2 {
		t.Errorf("mentions = %v", ids(mentions.Items()))
	}
	if n := len(p.user.Opens()); n != 1 {
		t.Errorf("user stream opened %d times, want 1", n)
	}

	r.SetVisible(FixedHome, false)
	r.SetVisible(FixedMentions, false)
	eventually(t, st.Closed)
	if home.Len() != 2 {
		t.Error("hiding home dropped its items")
	}
	if len(r.Columns()) != 0 {
		t.Errorf("columns = %d after hiding", len(r.Columns()))
	}
}

func TestMessagesPolledOnlyWhenShown(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	time.Sleep(10 * time.Millisecond)
	if p.dms.Calls() != 0 {
		t.Fatal("messages polled while hidden")
	}
	if err := r.SetVisible(FixedMessages, true); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return p.dms.Calls() == 1 })
	if !r.Visible(FixedMessages) {
		t.Error("messages not reported visible")
	}
}

func TestConversationWalksReplyChain(t *testing.T) {
	p := newFakeProvider()
	p.items[2] = model.Item{ID: 2, Body: "reply", InReplyTo: 1}
	p.items[1] = model.Item{ID: 1, Body: "root"}
	r, _ := newTestRegistry(t, p)

	tl, err := r.OpenConversation(model.Item{ID: 3, Body: "latest", InReplyTo: 2})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return !tl.Busy() && tl.Len() == 3 })
	if got := ids(tl.Items()); !reflect.DeepEqual(got, []model.ID{3, 2, 1}) {
		t.Errorf("conversation = %v, want [3 2 1]", got)
	}
}

func TestConversationBrokenChainReportsError(t *testing.T) {
	p := newFakeProvider()
	var mu sync.Mutex
	var reported []error
	r, _ := newTestRegistry(t, p, func(o *Options) {
		o.OnError = func(_ *timeline.Timeline, err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		}
	})

	tl, err := r.OpenConversation(model.Item{ID: 5, Body: "orphan", InReplyTo: 4})
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1
	})
	if tl.Len() != 1 {
		t.Errorf("len = %d, want the starting item only", tl.Len())
	}
}

func TestDialogMergesBothDirections(t *testing.T) {
	p := newFakeProvider()
	p.searches["from:alice to:bob"] = []model.Item{{ID: 1, Body: "hi"}, {ID: 3, Body: "ok"}}
	p.searches["from:bob to:alice"] = []model.Item{{ID: 2, Body: "hey"}, {ID: 3, Body: "ok"}}
	r, _ := newTestRegistry(t, p)

	tl, err := r.OpenDialog("@alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return !tl.Busy() })
	if got := ids(tl.Items()); !reflect.DeepEqual(got, []model.ID{3, 2, 1}) {
		t.Errorf("dialog = %v, want [3 2 1]", got)
	}
}

func TestPollingSearchFiltersBySince(t *testing.T) {
	p := newFakeProvider()
	p.searches["golang"] = []model.Item{{ID: 9, Body: "golang"}, {ID: 4, Body: "golang"}}
	r, _ := newTestRegistry(t, p)

	tl, err := r.OpenSearchPolling(" golang ")
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return tl.Len() == 2 })
	if tl.Tag().Kind != timeline.KindPolling {
		t.Errorf("tag = %v", tl.Tag())
	}
}

func TestPollingColumnsUseProviderFeeds(t *testing.T) {
	p := newFakeProvider()
	p.pollers["user:alice"] = sourcetest.NewPoller(sourcetest.Response{Items: []model.Item{{ID: 3, Author: "alice"}}})
	p.pollers["topic:golang"] = sourcetest.NewPoller(sourcetest.Response{Items: []model.Item{{ID: 5}, {ID: 4}}})
	p.pollers["list:42"] = sourcetest.NewPoller(sourcetest.Response{Items: []model.Item{{ID: 8}}})
	r, _ := newTestRegistry(t, p)

	profile, err := r.OpenProfile(" @alice ")
	if err != nil {
		t.Fatal(err)
	}
	topic, err := r.OpenTopic("#golang")
	if err != nil {
		t.Fatal(err)
	}
	list, err := r.OpenList("42", "")
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool { return profile.Len() == 1 && topic.Len() == 2 && list.Len() == 1 })

	titles := []string{profile.Title(), topic.Title(), list.Title()}
	if !reflect.DeepEqual(titles, []string{"@alice", "#golang", "list 42"}) {
		t.Errorf("titles = %q", titles)
	}
	if got := ids(topic.Items()); !reflect.DeepEqual(got, []model.ID{5, 4}) {
		t.Errorf("topic items = %v", got)
	}
	for _, tl := range []*timeline.Timeline{profile, topic, list} {
		if !tl.Closable() || tl.Tag().Kind != timeline.KindPolling {
			t.Errorf("%s: closable=%v tag=%v", tl.Title(), tl.Closable(), tl.Tag())
		}
	}
	if h := r.SearchHub(); h != nil && h.SubscriberCount() != 0 {
		t.Error("polling columns must not subscribe to the search hub")
	}
}

func TestMoveColumns(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	a, _ := r.OpenProfile("a")
	b, _ := r.OpenProfile("b")
	c, _ := r.OpenProfile("c")

	if err := r.Move(c.ID(), -5); err != nil {
		t.Fatal(err)
	}
	if got := r.Columns(); got[0] != c || got[1] != a || got[2] != b {
		t.Errorf("after move left: %v %v %v", got[0].Title(), got[1].Title(), got[2].Title())
	}
	if err := r.Move(c.ID(), 1); err != nil {
		t.Fatal(err)
	}
	if got := r.Columns(); got[0] != a || got[1] != c {
		t.Errorf("after move right: %v %v", got[0].Title(), got[1].Title())
	}
	if err := r.Move("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Move(missing) = %v", err)
	}
}

func TestFixedColumnsStayInOrder(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	topic, _ := r.OpenTopic("go")
	r.SetVisible(FixedMessages, true)
	r.SetVisible(FixedHome, true)

	got := r.Columns()
	if len(got) != 3 {
		t.Fatalf("columns = %d", len(got))
	}
	if got[0] != r.FixedTimeline(FixedHome) || got[1] != r.FixedTimeline(FixedMessages) || got[2] != topic {
		t.Errorf("order = %s, %s, %s", got[0].Title(), got[1].Title(), got[2].Title())
	}
}

func TestRestore(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	if err := r.Restore(""); err != nil {
		t.Errorf("Restore(blank) = %v", err)
	}
	if err := r.Restore("x|y"); err != nil {
		t.Fatal(err)
	}
	if st := nextStream(t, p.filter); !reflect.DeepEqual(st.Terms(), []string{"x", "y"}) {
		t.Errorf("restored terms = %v", st.Terms())
	}
}

func TestShutdown(t *testing.T) {
	p := newFakeProvider()
	r, _ := newTestRegistry(t, p)

	r.SetVisible(FixedHome, true)
	st := nextStream(t, p.user)
	profile, _ := r.OpenProfile("x")

	r.Shutdown()
	if profile.State() != timeline.Disposed || r.FixedTimeline(FixedHome).State() != timeline.Disposed {
		t.Error("timelines not disposed")
	}
	eventually(t, st.Closed)
	if _, err := r.OpenTopic("go"); !errors.Is(err, ErrShutdown) {
		t.Errorf("OpenTopic after Shutdown = %v", err)
	}
}
