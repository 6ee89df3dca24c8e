// Package rss polls the public RSS feeds a Mastodon instance publishes for
// accounts and hashtags. It needs no token, so it serves profile and topic
// columns for anonymous use.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"

	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// Fetcher retrieves instance feeds.
type Fetcher struct {
	base   string
	client *http.Client
	log    *log.Logger
}

// NewFetcher creates a Fetcher for instance with the given HTTP timeout.
func NewFetcher(instance string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		base:   strings.TrimRight(instance, "/"),
		client: &http.Client{Timeout: timeout},
		log:    logging.Component("rss"),
	}
}

// UserTimeline polls /@handle.rss.
func (f *Fetcher) UserTimeline(handle string) source.Poller {
	u := f.base + "/@" + url.PathEscape(strings.TrimPrefix(handle, "@")) + ".rss"
	return f.poller(u)
}

// Topic polls /tags/topic.rss.
func (f *Fetcher) Topic(topic string) source.Poller {
	u := f.base + "/tags/" + url.PathEscape(strings.TrimPrefix(topic, "#")) + ".rss"
	return f.poller(u)
}

func (f *Fetcher) poller(u string) source.Poller {
	return source.PollerFunc(func(ctx context.Context, since model.ID) ([]model.Item, error) {
		return f.Fetch(ctx, u, since)
	})
}

// Fetch retrieves the feed at u and returns items newer than since. Feeds
// have no since parameter, so the watermark is applied here.
func (f *Fetcher) Fetch(ctx context.Context, u string, since model.ID) ([]model.Item, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "PingPong/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		it, ok := convertFeedItem(fi)
		if !ok {
			f.log.Debug("dropping feed item without status id", "guid", fi.GUID, "link", fi.Link)
			continue
		}
		if it.ID <= since {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// statusPathRe matches ".../@handle/123" status URLs.
var statusPathRe = regexp.MustCompile(`/@([^/]+)/(\d+)/?$`)

// trailingDigitsRe matches the numeric tail of a GUID.
var trailingDigitsRe = regexp.MustCompile(`(\d+)/?$`)

// convertFeedItem converts a gofeed.Item. The status id is the numeric tail
// of the GUID, falling back to the link.
func convertFeedItem(fi *gofeed.Item) (model.Item, bool) {
	var id model.ID
	for _, s := range []string{fi.GUID, fi.Link} {
		if m := trailingDigitsRe.FindStringSubmatch(s); m != nil {
			n, err := strconv.ParseUint(m[1], 10, 64)
			if err == nil && n != 0 {
				id = model.ID(n)
				break
			}
		}
	}
	if id == 0 {
		return model.Item{}, false
	}

	var published time.Time
	if fi.PublishedParsed != nil {
		published = *fi.PublishedParsed
	} else if fi.UpdatedParsed != nil {
		published = *fi.UpdatedParsed
	}

	author := ""
	if fi.Author != nil {
		author = strings.TrimPrefix(fi.Author.Name, "@")
	}
	if author == "" {
		for _, s := range []string{fi.Link, fi.GUID} {
			if m := statusPathRe.FindStringSubmatch(s); m != nil {
				author = m[1]
				break
			}
		}
	}

	body := fi.Description
	if body == "" {
		body = fi.Content
	}

	return model.Item{
		ID:        id,
		CreatedAt: published,
		Author:    author,
		Body:      source.PlainText(body),
		Kind:      model.KindStatus,
	}, true
}
