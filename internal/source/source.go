// Package source defines the boundary between the timeline engine and the
// services that produce items.
//
// Authentication, URL construction and response decoding belong to the
// implementations (see the mastodon and rss subpackages); the engine only
// asks for items newer than a watermark, or for a live stream filtered by
// terms.
package source

import (
	"context"
	"errors"

	"github.com/abelbrown/pingpong/internal/model"
)

// ErrMalformed is returned by Stream.Next for a record that could not be
// decoded. The stream itself is still usable.
var ErrMalformed = errors.New("malformed record")

// ErrClosed is returned by Stream.Next after Close.
var ErrClosed = errors.New("stream closed")

// Poller fetches a one-shot snapshot of items newer than since. A zero since
// means no watermark yet. Items come back in server order, usually newest
// first.
type Poller interface {
	FetchSince(ctx context.Context, since model.ID) ([]model.Item, error)
}

// PollerFunc adapts a function to Poller.
type PollerFunc func(ctx context.Context, since model.ID) ([]model.Item, error)

// FetchSince calls f.
func (f PollerFunc) FetchSince(ctx context.Context, since model.ID) ([]model.Item, error) {
	return f(ctx, since)
}

// Streamer opens live connections. Nil terms asks for the unfiltered stream;
// otherwise the service is told every term up front.
type Streamer interface {
	OpenStream(ctx context.Context, terms []string) (Stream, error)
}

// Stream is one open live connection.
type Stream interface {
	// Next blocks until the next item arrives. It returns ErrMalformed for a
	// record that could not be decoded and any other error when the
	// connection is gone.
	Next() (model.Item, error)

	// Close tears the connection down and unblocks Next.
	Close() error
}

// Searcher runs a one-shot query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.Item, error)
}

// Lookup fetches a single item by id.
type Lookup interface {
	Item(ctx context.Context, id model.ID) (model.Item, error)
}
