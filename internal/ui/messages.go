// Package ui provides the Bubble Tea TUI for PingPong.
package ui

// Refresh is sent by the Bridge when timelines changed since the last
// Refresh. Updates are coalesced, so one Refresh may cover many items.
type Refresh struct {
	Updated []string // timeline ids with new items or a busy change
	Columns bool     // the visible column set changed
	Errors  []TimelineError
}

// TimelineError reports a feed error for one timeline.
type TimelineError struct {
	ID  string
	Err error
}

// ActionDone is sent when a registry action run as a command finishes.
type ActionDone struct {
	Action string
	Err    error
}
