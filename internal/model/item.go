// Package model defines the Item, the unit of content every timeline holds.
//
// Items are immutable once constructed. Identity, deduplication and ordering
// are defined solely by ID; CreatedAt is informational.
package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ID is a service-assigned identifier. IDs are assigned in non-decreasing
// order by the service, but arrival order across merged sources is arbitrary.
// Zero is never a valid ID.
type ID uint64

// String formats the ID the way the service does on the wire.
func (id ID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// Kind tags what sort of unit an Item is.
type Kind int

const (
	KindStatus Kind = iota
	KindDirectMessage
	KindSearchHit
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindDirectMessage:
		return "direct_message"
	case KindSearchHit:
		return "search_hit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Item is one fetched unit: a status update, a direct message or a search hit.
type Item struct {
	ID        ID
	CreatedAt time.Time
	Author    string // handle without the leading '@'
	Body      string // raw text; entities and links are left for the renderer
	Kind      Kind

	// InReplyTo is zero when absent. Only statuses carry it.
	InReplyTo ID
}

var (
	// ErrZeroID marks an item without an identifier.
	ErrZeroID = errors.New("item has zero id")

	// ErrInReplyToKind marks a reply id on something that is not a status.
	ErrInReplyToKind = errors.New("in-reply-to is only valid for statuses")
)

// Validate reports whether the item is well formed.
func (i Item) Validate() error {
	if i.ID == 0 {
		return ErrZeroID
	}
	if i.InReplyTo != 0 && i.Kind != KindStatus {
		return fmt.Errorf("item %s: %w", i.ID, ErrInReplyToKind)
	}
	return nil
}

// IsReply reports whether the item answers another status.
func (i Item) IsReply() bool {
	return i.Kind == KindStatus && i.InReplyTo != 0
}

// Newer reports whether a was assigned after b.
func Newer(a, b Item) bool {
	return a.ID > b.ID
}

// SortNewestFirst orders items by descending ID in place.
func SortNewestFirst(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
}

// SortOldestFirst orders items by ascending ID in place.
func SortOldestFirst(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

// MaxID returns the largest ID in items, or zero for an empty slice.
func MaxID(items []Item) ID {
	var max ID
	for _, it := range items {
		if it.ID > max {
			max = it.ID
		}
	}
	return max
}
