// Package sourcetest provides scripted Poller and Streamer fakes for tests.
package sourcetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/source"
)

// Response is one scripted FetchSince result.
type Response struct {
	Items []model.Item
	Err   error
}

// Poller replays scripted responses in order, then returns empty batches.
type Poller struct {
	mu        sync.Mutex
	responses []Response
	sinces    []model.ID
	inFlight  int
	maxFlight int

	// Block, when non-nil, makes FetchSince wait for a receive from it (or for
	// cancellation) before answering.
	Block chan struct{}

	fetched chan model.ID
}

// NewPoller creates a Poller with the given script.
func NewPoller(responses ...Response) *Poller {
	return &Poller{
		responses: responses,
		fetched:   make(chan model.ID, 256),
	}
}

// FetchSince implements source.Poller.
func (p *Poller) FetchSince(ctx context.Context, since model.ID) ([]model.Item, error) {
	p.mu.Lock()
	p.sinces = append(p.sinces, since)
	p.inFlight++
	if p.inFlight > p.maxFlight {
		p.maxFlight = p.inFlight
	}
	var resp Response
	if len(p.responses) > 0 {
		resp = p.responses[0]
		p.responses = p.responses[1:]
	}
	block := p.Block
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
		select {
		case p.fetched <- since:
		default:
		}
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp.Items, resp.Err
}

// Sinces returns the watermark passed to each call so far.
func (p *Poller) Sinces() []model.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.ID, len(p.sinces))
	copy(out, p.sinces)
	return out
}

// Calls returns how many fetches were issued.
func (p *Poller) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sinces)
}

// MaxInFlight returns the largest number of concurrent fetches observed.
func (p *Poller) MaxInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxFlight
}

// Fetched receives the since value of every completed fetch.
func (p *Poller) Fetched() <-chan model.ID {
	return p.fetched
}

// Streamer hands out controllable Streams.
type Streamer struct {
	mu        sync.Mutex
	opens     [][]string
	streams   []*Stream
	failOpens int
	failErr   error
	opened    chan *Stream
}

// NewStreamer creates a Streamer.
func NewStreamer() *Streamer {
	return &Streamer{opened: make(chan *Stream, 64)}
}

// FailNextOpens makes the next n OpenStream calls return err.
func (s *Streamer) FailNextOpens(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens = n
	s.failErr = err
}

// OpenStream implements source.Streamer.
func (s *Streamer) OpenStream(ctx context.Context, terms []string) (source.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var copied []string
	if terms != nil {
		copied = append([]string{}, terms...)
	}
	s.opens = append(s.opens, copied)

	if s.failOpens > 0 {
		s.failOpens--
		return nil, s.failErr
	}

	st := &Stream{
		terms: copied,
		ch:    make(chan result, 256),
		done:  make(chan struct{}),
	}
	s.streams = append(s.streams, st)
	select {
	case s.opened <- st:
	default:
	}
	return st, nil
}

// Opens returns the terms of every OpenStream call, including failed ones.
func (s *Streamer) Opens() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.opens))
	copy(out, s.opens)
	return out
}

// Streams returns every successfully opened stream.
func (s *Streamer) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Stream, len(s.streams))
	copy(out, s.streams)
	return out
}

// Opened receives each stream as it is opened.
func (s *Streamer) Opened() <-chan *Stream {
	return s.opened
}

type result struct {
	item model.Item
	err  error
}

// Stream is a fake live connection fed by the test.
type Stream struct {
	terms []string
	ch    chan result
	done  chan struct{}
	once  sync.Once
}

// Terms returns the terms the stream was opened with.
func (s *Stream) Terms() []string {
	return s.terms
}

// Send delivers an item to the reader.
func (s *Stream) Send(item model.Item) {
	s.push(result{item: item})
}

// SendMalformed delivers an undecodable record.
func (s *Stream) SendMalformed() {
	s.push(result{err: fmt.Errorf("decode payload: %w", source.ErrMalformed)})
}

// Drop simulates the connection going away with err.
func (s *Stream) Drop(err error) {
	s.push(result{err: err})
}

func (s *Stream) push(r result) {
	select {
	case s.ch <- r:
	case <-s.done:
	}
}

// Next implements source.Stream.
func (s *Stream) Next() (model.Item, error) {
	select {
	case r := <-s.ch:
		return r.item, r.err
	case <-s.done:
		return model.Item{}, source.ErrClosed
	}
}

// Close implements source.Stream.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
