package ui

import (
	"fmt"
	"strings"

	"github.com/abelbrown/pingpong/internal/hub"
	"github.com/abelbrown/pingpong/internal/logging"
	"github.com/abelbrown/pingpong/internal/timeline"
)

// debugPanelChrome is the number of terminal lines consumed by DebugPanel's
// border and vertical padding.
const debugPanelChrome = 4

// debugLogLines is how many recent log lines the overlay shows.
const debugLogLines = 8

// debugOverlay renders live connection and timeline state. Nil hubs are
// skipped.
func debugOverlay(hubs []*hub.Hub, columns []*timeline.Timeline, width, height int) string {
	var lines []string
	lines = append(lines, DebugHeaderStyle.Render("Connections"))
	shown := 0
	for _, h := range hubs {
		if h == nil {
			continue
		}
		shown++
		terms := "unfiltered"
		if t := h.Terms(); t != nil {
			terms = strings.Join(t, " ")
		}
		lines = append(lines, fmt.Sprintf("  %-8s %-12s %2d subs  %s",
			h.Name(), h.State(), h.SubscriberCount(), truncateRunes(terms, 40)))
	}
	if shown == 0 {
		lines = append(lines, "  none")
	}
	lines = append(lines, "")

	lines = append(lines, DebugHeaderStyle.Render("Timelines"))
	for _, tl := range columns {
		line := fmt.Sprintf("  %-24s %-9s %4d items", truncateRunes(tl.Title(), 24), tl.State(), tl.Len())
		if tl.Busy() {
			line += "  busy"
		}
		if err := tl.LastError(); err != nil {
			line += "  ERR:" + truncateRunes(err.Error(), 30)
		}
		lines = append(lines, line)
	}

	lines = append(lines, "")
	lines = append(lines, DebugHeaderStyle.Render("Recent log"))
	for _, l := range logging.Recent(debugLogLines) {
		lines = append(lines, "  "+truncateRunes(l, 72))
	}

	maxHeight := height - debugPanelChrome
	if maxHeight < 1 {
		maxHeight = 1
	}
	if len(lines) > maxHeight {
		lines = lines[:maxHeight]
	}

	panelWidth := 76
	if panelWidth > width-4 {
		panelWidth = width - 4
	}
	if panelWidth < 20 {
		panelWidth = 20
	}

	return DebugPanel.Width(panelWidth).Render(strings.Join(lines, "\n"))
}

// debugStatusBar renders the status bar for the debug overlay.
func debugStatusBar(width int) string {
	keys := StatusBarKey.Render("?") + StatusBarText.Render(":close")
	return StatusBar.Width(width).Render("  [DEBUG]  " + keys)
}
