package hub

import (
	"strings"

	"github.com/abelbrown/pingpong/internal/model"
)

// Filter selects the items a subscription receives. An empty filter matches
// everything.
type Filter struct {
	// Terms are OR-ed, case-sensitive substrings of the item body.
	Terms []string
}

// NewFilter normalizes terms: empty strings are dropped and an empty result
// means unfiltered.
func NewFilter(terms []string) Filter {
	var out []string
	for _, t := range terms {
		if t != "" {
			out = append(out, t)
		}
	}
	return Filter{Terms: out}
}

// Unfiltered reports whether the filter matches everything.
func (f Filter) Unfiltered() bool {
	return len(f.Terms) == 0
}

// Matches returns true if any term occurs in the item body.
func (f Filter) Matches(item model.Item) bool {
	if f.Unfiltered() {
		return true
	}
	for _, t := range f.Terms {
		if strings.Contains(item.Body, t) {
			return true
		}
	}
	return false
}

// unionTerms merges filters in order, dropping duplicates. Any unfiltered
// member makes the union unfiltered (nil).
func unionTerms(filters []Filter) []string {
	if len(filters) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, f := range filters {
		if f.Unfiltered() {
			return nil
		}
		for _, t := range f.Terms {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// covers reports whether a connection opened with live terms already carries
// everything f needs.
func covers(live []string, f Filter) bool {
	if live == nil {
		return true
	}
	if f.Unfiltered() {
		return false
	}
	for _, t := range f.Terms {
		found := false
		for _, l := range live {
			if l == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
