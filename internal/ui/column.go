package ui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/pingpong/internal/model"
)

// maxBodyLines caps how many wrapped lines of an item body are shown.
const maxBodyLines = 3

// columnView is what a column needs to render. It is built from a timeline
// snapshot so rendering never touches live state.
type columnView struct {
	Title  string
	Search bool
	Busy   bool
	Items  []model.Item
	Cursor int
	Err    error
}

// renderColumn renders a column header, its items and the last error into
// a box of the given outer width and height. spin is the spinner frame
// shown while the column is busy.
func renderColumn(c columnView, width, height int, focused bool, spin string, now time.Time) string {
	box := ColumnBox
	if focused {
		box = FocusedColumnBox
	}
	inner := width - box.GetHorizontalFrameSize()
	if inner < 10 {
		inner = 10
	}
	avail := height - box.GetVerticalFrameSize()
	if avail < 3 {
		avail = 3
	}

	var lines []string
	lines = append(lines, renderHeader(c, inner, spin))
	avail--

	if c.Err != nil {
		lines = append(lines, ErrorStyle.Padding(0).Render(truncateRunes("! "+c.Err.Error(), inner)))
		avail--
	}

	if len(c.Items) == 0 {
		msg := "Nothing yet."
		if c.Busy {
			msg = "Loading..."
		}
		lines = append(lines, HelpStyle.Render(msg))
	} else {
		blocks := make([][]string, len(c.Items))
		heights := make([]int, len(c.Items))
		for i, it := range c.Items {
			blocks[i] = renderItem(it, i == c.Cursor && focused, inner, now)
			heights[i] = len(blocks[i])
		}

		offset := calcScrollOffset(heights, c.Cursor, avail)
		used := 0
		for i := offset; i < len(blocks); i++ {
			if used+heights[i] > avail {
				break
			}
			lines = append(lines, blocks[i]...)
			used += heights[i]
		}
	}

	// Width and Height include padding but not the border.
	return box.
		Width(inner + box.GetHorizontalPadding()).
		Height(boxHeight(height, box)).
		Render(strings.Join(lines, "\n"))
}

func boxHeight(height int, box lipgloss.Style) int {
	h := height - box.GetVerticalBorderSize()
	if h < 1 {
		h = 1
	}
	return h
}

func renderHeader(c columnView, width int, spin string) string {
	style := ColumnTitle
	if c.Search {
		style = SearchTitle
	}
	title := style.Render(truncateRunes(c.Title, width-8))
	count := MetaItem.Render(fmt.Sprintf(" %d", len(c.Items)))
	if c.Busy {
		count = " " + spin
	}
	return title + count
}

// renderItem renders an item as an author line followed by its wrapped body.
func renderItem(it model.Item, selected bool, width int, now time.Time) []string {
	author := "@" + it.Author
	if it.Author == "" {
		author = "?"
	}
	meta := formatAgeShort(it.CreatedAt, now)
	if it.IsReply() {
		meta = ReplyMarker.Render("↩ ") + MetaItem.Render(meta)
	} else {
		meta = MetaItem.Render(meta)
	}

	head := AuthorStyle.Render(truncateRunes(author, width-10))
	pad := width - lipgloss.Width(head) - lipgloss.Width(meta)
	if pad < 1 {
		pad = 1
	}
	lines := []string{head + strings.Repeat(" ", pad) + meta}

	body := wrapBody(it.Body, width)
	style := NormalItem
	if selected {
		style = SelectedItem
	}
	for _, l := range body {
		lines = append(lines, style.Render(padRight(l, width)))
	}
	return append(lines, "")
}

// wrapBody word-wraps s to width, keeping at most maxBodyLines lines.
func wrapBody(s string, width int) []string {
	if s == "" {
		return []string{""}
	}
	wrapped := lipgloss.NewStyle().Width(width).Render(s)
	lines := strings.Split(wrapped, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	if len(lines) > maxBodyLines {
		lines = lines[:maxBodyLines]
		lines[maxBodyLines-1] = truncateRunes(lines[maxBodyLines-1]+"…", width)
	}
	return lines
}

// calcScrollOffset finds the smallest item index such that every item from
// there through the cursor fits within avail lines.
func calcScrollOffset(heights []int, cursor, avail int) int {
	if len(heights) == 0 || cursor < 0 {
		return 0
	}
	if cursor >= len(heights) {
		cursor = len(heights) - 1
	}
	total := 0
	for i := 0; i <= cursor; i++ {
		total += heights[i]
	}
	if total <= avail {
		return 0
	}
	offset, used := cursor, heights[cursor]
	for offset > 0 && used+heights[offset-1] <= avail {
		offset--
		used += heights[offset]
	}
	return offset
}

func formatAgeShort(created, now time.Time) string {
	if created.IsZero() {
		return ""
	}
	age := now.Sub(created)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}

// truncateRunes shortens s to max runes, ending with "…" when cut.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// RenderStatusBar renders the bottom status bar with a left-hand message
// and key hints.
func RenderStatusBar(left string, width int) string {
	keys := []string{
		StatusBarKey.Render("h/l") + StatusBarText.Render(":column"),
		StatusBarKey.Render("j/k") + StatusBarText.Render(":nav"),
		StatusBarKey.Render("/") + StatusBarText.Render(":stream"),
		StatusBarKey.Render("p") + StatusBarText.Render(":profile"),
		StatusBarKey.Render("t") + StatusBarText.Render(":topic"),
		StatusBarKey.Render("c") + StatusBarText.Render(":thread"),
		StatusBarKey.Render("x") + StatusBarText.Render(":close"),
		StatusBarKey.Render("m") + StatusBarText.Render(":messages"),
		StatusBarKey.Render("q") + StatusBarText.Render(":quit"),
	}
	keyHints := strings.Join(keys, " ")

	left = " " + left + " "
	padding := width - lipgloss.Width(left) - lipgloss.Width(keyHints) - 2
	if padding < 0 {
		padding = 0
	}

	bar := left + strings.Repeat(" ", padding) + keyHints
	return StatusBar.Width(width).Render(bar)
}
