package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// subscribeFrame asks the multiplexed endpoint for one stream.
type subscribeFrame struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Tag    string `json:"tag,omitempty"`
}

// envelope is one message on the multiplexed endpoint. Payload is itself a
// JSON document encoded as a string.
type envelope struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// streamer opens websocket connections. The user streamer backfills the
// home timeline and recent mentions before going live; the filter streamer
// follows hashtags.
type streamer struct {
	c    *Client
	user bool
}

// UserStream returns the signed-in account's live stream. Terms are matched
// locally by the hub, so they are ignored here.
func (c *Client) UserStream() source.Streamer {
	return &streamer{c: c, user: true}
}

// FilterStream returns a public stream following one hashtag per term. With
// nil terms it follows the whole public timeline.
func (c *Client) FilterStream() source.Streamer {
	return &streamer{c: c}
}

func (c *Client) streamingURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/v1/streaming"
	u.RawQuery = ""
	return u.String()
}

// OpenStream dials the streaming endpoint and sends the subscribe frames.
func (s *streamer) OpenStream(ctx context.Context, terms []string) (source.Stream, error) {
	var backlog []model.Item
	if s.user {
		items, err := s.c.userBacklog(ctx)
		if err != nil {
			return nil, err
		}
		backlog = items
	}

	header := http.Header{}
	header.Set("User-Agent", "PingPong/1.0")
	if s.c.token != "" {
		header.Set("Authorization", "Bearer "+s.c.token)
	}

	conn, resp, err := s.c.dialer.DialContext(ctx, s.c.streamingURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial streaming: %w: %d", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial streaming: %w", err)
	}

	for _, f := range frames(s.user, terms) {
		if err := conn.WriteJSON(f); err != nil {
			conn.Close()
			return nil, fmt.Errorf("subscribe %s: %w", f.Stream, err)
		}
	}

	s.c.log.Debug("stream opened", "user", s.user, "terms", terms)
	return &wsStream{conn: conn, backlog: backlog}, nil
}

// userBacklog merges the home timeline with recent mentions, oldest first.
// A mention from a followed account shows up in both and is kept once.
func (c *Client) userBacklog(ctx context.Context) ([]model.Item, error) {
	home, err := c.Home().FetchSince(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("backfill home: %w", err)
	}
	mentions, err := c.Mentions().FetchSince(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("backfill mentions: %w", err)
	}

	seen := make(map[model.ID]bool, len(home)+len(mentions))
	items := make([]model.Item, 0, len(home)+len(mentions))
	for _, it := range append(home, mentions...) {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		items = append(items, it)
	}
	model.SortOldestFirst(items)
	return items, nil
}

func frames(user bool, terms []string) []subscribeFrame {
	if user {
		return []subscribeFrame{{Type: "subscribe", Stream: "user"}}
	}
	if terms == nil {
		return []subscribeFrame{{Type: "subscribe", Stream: "public"}}
	}
	var out []subscribeFrame
	seen := make(map[string]bool)
	for _, term := range terms {
		tag := strings.ToLower(strings.TrimPrefix(term, "#"))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, subscribeFrame{Type: "subscribe", Stream: "hashtag", Tag: tag})
	}
	return out
}

type wsStream struct {
	conn    *websocket.Conn
	backlog []model.Item

	mu     sync.Mutex
	closed bool
}

// Next returns backfilled items first, then live updates and mention
// notifications. Other events (deletes, edits, other notifications) are
// skipped.
func (s *wsStream) Next() (model.Item, error) {
	if len(s.backlog) > 0 {
		it := s.backlog[0]
		s.backlog = s.backlog[1:]
		return it, nil
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return model.Item{}, source.ErrClosed
			}
			return model.Item{}, fmt.Errorf("read stream: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return model.Item{}, fmt.Errorf("%w: envelope: %v", source.ErrMalformed, err)
		}
		switch env.Event {
		case "update":
		case "notification":
			var n notification
			if err := json.Unmarshal([]byte(env.Payload), &n); err != nil {
				return model.Item{}, fmt.Errorf("%w: notification: %v", source.ErrMalformed, err)
			}
			it, ok, err := n.mention()
			if err != nil {
				return model.Item{}, fmt.Errorf("%w: %v", source.ErrMalformed, err)
			}
			if !ok {
				continue
			}
			return it, nil
		default:
			continue
		}

		var st status
		if err := json.Unmarshal([]byte(env.Payload), &st); err != nil {
			return model.Item{}, fmt.Errorf("%w: payload: %v", source.ErrMalformed, err)
		}
		it, err := st.toItem(model.KindStatus)
		if err != nil {
			return model.Item{}, fmt.Errorf("%w: %v", source.ErrMalformed, err)
		}
		return it, nil
	}
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
