// Package mastodon implements the item sources over the Mastodon REST and
// streaming APIs.
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// pageLimit is the number of statuses requested per poll.
const pageLimit = 40

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

// Client talks to one Mastodon instance as one account.
type Client struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
	dialer  *websocket.Dialer
	log     *log.Logger

	mu       sync.Mutex
	accounts map[string]string // acct -> account id
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithRateLimit paces REST requests to one per interval. Zero disables
// pacing.
func WithRateLimit(every time.Duration) Option {
	return func(cl *Client) {
		if every <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cl.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// New creates a client for instance (e.g. "https://mastodon.social").
func New(instance, token string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(instance, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse instance url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("instance url %q: scheme must be http or https", instance)
	}

	c := &Client{
		base:     base,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		dialer:   websocket.DefaultDialer,
		log:      logging.Component("mastodon"),
		accounts: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = u.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

// get fetches path and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, q), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "PingPong/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s: %w: %d %s", path, ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func sinceQuery(since model.ID) url.Values {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(pageLimit))
	if since != 0 {
		q.Set("since_id", since.String())
	}
	return q
}

// statuses fetches a status list endpoint and converts it, dropping
// entries that cannot be converted.
func (c *Client) statuses(ctx context.Context, path string, q url.Values, kind model.Kind) ([]model.Item, error) {
	var raw []status
	if err := c.get(ctx, path, q, &raw); err != nil {
		return nil, err
	}
	return c.convert(raw, kind), nil
}

func (c *Client) convert(raw []status, kind model.Kind) []model.Item {
	items := make([]model.Item, 0, len(raw))
	for _, s := range raw {
		it, err := s.toItem(kind)
		if err != nil {
			c.log.Warn("dropping status", "id", s.ID, "err", err)
			continue
		}
		items = append(items, it)
	}
	return items
}

// Home polls the signed-in account's home timeline.
func (c *Client) Home() source.Poller {
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		return c.statuses(ctx, "/api/v1/timelines/home", sinceQuery(since), model.KindStatus)
	})
}

// Topic polls a hashtag timeline.
func (c *Client) Topic(topic string) source.Poller {
	tag := url.PathEscape(strings.TrimPrefix(topic, "#"))
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		return c.statuses(ctx, "/api/v1/timelines/tag/"+tag, sinceQuery(since), model.KindStatus)
	})
}

// List polls a list timeline.
func (c *Client) List(id string) source.Poller {
	path := "/api/v1/timelines/list/" + url.PathEscape(id)
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		return c.statuses(ctx, path, sinceQuery(since), model.KindStatus)
	})
}

// UserTimeline polls one account's statuses. The account id is resolved on
// the first fetch and cached.
func (c *Client) UserTimeline(handle string) source.Poller {
	handle = strings.TrimPrefix(handle, "@")
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		id, err := c.accountID(ctx, handle)
		if err != nil {
			return nil, err
		}
		return c.statuses(ctx, "/api/v1/accounts/"+url.PathEscape(id)+"/statuses", sinceQuery(since), model.KindStatus)
	})
}

func (c *Client) accountID(ctx context.Context, handle string) (string, error) {
	c.mu.Lock()
	id, ok := c.accounts[handle]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var acct account
	q := url.Values{}
	q.Set("acct", handle)
	if err := c.get(ctx, "/api/v1/accounts/lookup", q, &acct); err != nil {
		return "", fmt.Errorf("lookup @%s: %w", handle, err)
	}

	c.mu.Lock()
	c.accounts[handle] = acct.ID
	c.mu.Unlock()
	return acct.ID, nil
}

// DirectMessages polls direct mentions. Items carry the notification id, so
// the watermark moves through notification ids as the endpoint expects.
func (c *Client) DirectMessages() source.Poller {
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		q := sinceQuery(since)
		q.Add("types[]", "mention")

		var raw []notification
		if err := c.get(ctx, "/api/v1/notifications", q, &raw); err != nil {
			return nil, err
		}

		var items []model.Item
		for _, n := range raw {
			if n.Status == nil || n.Status.Visibility != "direct" {
				continue
			}
			id, err := parseID(n.ID)
			if err != nil {
				c.log.Warn("dropping notification", "id", n.ID, "err", err)
				continue
			}
			it, err := n.Status.toItem(model.KindDirectMessage)
			if err != nil {
				c.log.Warn("dropping notification", "id", n.ID, "err", err)
				continue
			}
			it.ID = id
			items = append(items, it)
		}
		return items, nil
	})
}

// Mentions polls public and private mentions of the signed-in account.
// Direct messages are left to DirectMessages. Items carry the status id.
func (c *Client) Mentions() source.Poller {
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		q := sinceQuery(since)
		q.Add("types[]", "mention")

		var raw []notification
		if err := c.get(ctx, "/api/v1/notifications", q, &raw); err != nil {
			return nil, err
		}

		var items []model.Item
		for _, n := range raw {
			it, ok, err := n.mention()
			if err != nil {
				c.log.Warn("dropping notification", "id", n.ID, "err", err)
				continue
			}
			if ok {
				items = append(items, it)
			}
		}
		return items, nil
	})
}

// Search runs a status search.
func (c *Client) Search(ctx context.Context, query string) ([]model.Item, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "statuses")
	q.Set("limit", fmt.Sprint(pageLimit))

	var res searchResults
	if err := c.get(ctx, "/api/v2/search", q, &res); err != nil {
		return nil, err
	}
	return c.convert(res.Statuses, model.KindSearchHit), nil
}

// Item fetches one status.
func (c *Client) Item(ctx context.Context, id model.ID) (model.Item, error) {
	var s status
	if err := c.get(ctx, "/api/v1/statuses/"+id.String(), nil, &s); err != nil {
		return model.Item{}, err
	}
	return s.toItem(model.KindStatus)
}
