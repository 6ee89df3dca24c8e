package logging

import (
	"strings"
	"sync"
)

// DefaultRingSize is how many log lines the recent buffer keeps.
const DefaultRingSize = 256

// Ring keeps the most recent log lines in memory for the debug overlay.
// It is an io.Writer so it can sit behind the logger. Goroutine-safe.
type Ring struct {
	mu    sync.Mutex
	lines []string
	head  int // next write position
	count int
	part  string // unterminated tail of the last Write
}

// NewRing creates a ring holding up to size lines.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{lines: make([]string, size)}
}

// Write splits p into lines and pushes each complete one.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.part + string(p)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		r.push(s[:i])
		s = s[i+1:]
	}
	r.part = s
	return len(p), nil
}

// Push adds one line, evicting the oldest when full.
func (r *Ring) Push(line string) {
	r.mu.Lock()
	r.push(line)
	r.mu.Unlock()
}

func (r *Ring) push(line string) {
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Last returns up to n of the newest lines, oldest first.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]string, n)
	size := len(r.lines)
	start := (r.head - n + size) % size
	for i := range out {
		out[i] = r.lines[(start+i)%size]
	}
	return out
}

// Len returns how many lines are buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
