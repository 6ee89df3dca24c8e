package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abelbrown/pingpong/internal/hub"
	"github.com/abelbrown/pingpong/internal/model"
	"github.com/abelbrown/pingpong/internal/registry"
	"github.com/abelbrown/pingpong/internal/timeline"
)

// minColumnWidth is the narrowest a column is drawn.
const minColumnWidth = 32

// Registry is the part of *registry.Registry the App drives.
type Registry interface {
	Columns() []*timeline.Timeline
	StartStreaming(query string) ([]*timeline.Timeline, error)
	OpenProfile(handle string) (*timeline.Timeline, error)
	OpenTopic(topic string) (*timeline.Timeline, error)
	OpenConversation(item model.Item) (*timeline.Timeline, error)
	Close(id string) error
	Move(id string, delta int) error
	SetVisible(f registry.Fixed, visible bool) error
	Visible(f registry.Fixed) bool
	LastSearch() string
	UserHub() *hub.Hub
	SearchHub() *hub.Hub
}

type inputMode int

const (
	inputNone inputMode = iota
	inputStream
	inputProfile
	inputTopic
)

// App is the root Bubble Tea model.
// App reads timelines for rendering; every registry mutation runs as a
// command so Update never blocks on a feed shutting down.
type App struct {
	reg Registry
	now func() time.Time

	columns []*timeline.Timeline
	focus   int
	cursors map[string]int
	errs    map[string]error

	input   textinput.Model
	mode    inputMode
	spinner spinner.Model

	err    error
	status string
	width  int
	height int
	ready  bool
	debug  bool
}

// NewApp creates an App over reg.
func NewApp(reg Registry) App {
	ti := textinput.New()
	ti.Prompt = ""
	ti.CharLimit = 256
	ti.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorHighlight)

	return App{
		reg:     reg,
		now:     time.Now,
		columns: reg.Columns(),
		cursors: make(map[string]int),
		errs:    make(map[string]error),
		input:   ti,
		spinner: s,
	}
}

// Init starts the spinner.
func (a App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update handles messages and returns the updated model and any commands.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.mode != inputNone {
			return a.handleInputKey(msg)
		}
		return a.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 16
		a.ready = true
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case Refresh:
		for _, id := range msg.Updated {
			delete(a.errs, id)
		}
		for _, e := range msg.Errors {
			a.errs[e.ID] = e.Err
		}
		if msg.Columns {
			a.reloadColumns()
		}
		return a, nil

	case ActionDone:
		if msg.Err != nil {
			a.err = msg.Err
		} else {
			a.status = msg.Action
		}
		a.reloadColumns()
		return a, nil
	}

	return a, nil
}

func (a *App) reloadColumns() {
	var focusedID string
	if tl := a.focused(); tl != nil {
		focusedID = tl.ID()
	}
	a.columns = a.reg.Columns()

	live := make(map[string]bool, len(a.columns))
	for i, tl := range a.columns {
		live[tl.ID()] = true
		if tl.ID() == focusedID {
			a.focus = i
		}
	}
	for id := range a.cursors {
		if !live[id] {
			delete(a.cursors, id)
		}
	}
	for id := range a.errs {
		if !live[id] {
			delete(a.errs, id)
		}
	}
	a.clampFocus()
}

func (a *App) clampFocus() {
	if a.focus >= len(a.columns) {
		a.focus = len(a.columns) - 1
	}
	if a.focus < 0 {
		a.focus = 0
	}
}

func (a App) focused() *timeline.Timeline {
	if a.focus < 0 || a.focus >= len(a.columns) {
		return nil
	}
	return a.columns[a.focus]
}

// selected returns the item under the cursor in the focused column.
func (a App) selected() (model.Item, bool) {
	tl := a.focused()
	if tl == nil {
		return model.Item{}, false
	}
	items := tl.Items()
	c := a.cursors[tl.ID()]
	if c < 0 || c >= len(items) {
		return model.Item{}, false
	}
	return items[c], true
}

// run wraps a registry mutation as a command.
func (a App) run(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return ActionDone{Action: action, Err: fn()}
	}
}

// handleKeyMsg processes keyboard input.
func (a App) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Clear any existing error on key press
	if a.err != nil {
		a.err = nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "?":
		a.debug = !a.debug
		return a, nil

	case "h", "left":
		if a.focus > 0 {
			a.focus--
		}
		return a, nil

	case "l", "right":
		if a.focus < len(a.columns)-1 {
			a.focus++
		}
		return a, nil

	case "j", "down":
		a.moveCursor(1)
		return a, nil

	case "k", "up":
		a.moveCursor(-1)
		return a, nil

	case "g", "home":
		if tl := a.focused(); tl != nil {
			a.cursors[tl.ID()] = 0
		}
		return a, nil

	case "G", "end":
		if tl := a.focused(); tl != nil && tl.Len() > 0 {
			a.cursors[tl.ID()] = tl.Len() - 1
		}
		return a, nil

	case "H", "L":
		tl := a.focused()
		if tl == nil {
			return a, nil
		}
		delta := -1
		if msg.String() == "L" {
			delta = 1
		}
		id := tl.ID()
		return a, a.run("moved "+tl.Title(), func() error { return a.reg.Move(id, delta) })

	case "x":
		tl := a.focused()
		if tl == nil {
			return a, nil
		}
		id, title := tl.ID(), tl.Title()
		return a, a.run("closed "+title, func() error { return a.reg.Close(id) })

	case "m":
		show := !a.reg.Visible(registry.FixedMessages)
		action := "messages hidden"
		if show {
			action = "messages shown"
		}
		return a, a.run(action, func() error { return a.reg.SetVisible(registry.FixedMessages, show) })

	case "c":
		item, ok := a.selected()
		if !ok {
			return a, nil
		}
		return a, a.run("opened thread", func() error {
			_, err := a.reg.OpenConversation(item)
			return err
		})

	case "/":
		return a, a.startInput(inputStream, a.reg.LastSearch())

	case "p":
		return a, a.startInput(inputProfile, "")

	case "t":
		return a, a.startInput(inputTopic, "")
	}

	return a, nil
}

func (a *App) moveCursor(delta int) {
	tl := a.focused()
	if tl == nil {
		return
	}
	c := a.cursors[tl.ID()] + delta
	if n := tl.Len(); c >= n {
		c = n - 1
	}
	if c < 0 {
		c = 0
	}
	a.cursors[tl.ID()] = c
}

func (a *App) startInput(mode inputMode, value string) tea.Cmd {
	a.mode = mode
	switch mode {
	case inputStream:
		a.input.Placeholder = "terms to stream, e.g. golang rust|zig"
	case inputProfile:
		a.input.Placeholder = "@handle"
	case inputTopic:
		a.input.Placeholder = "#topic"
	}
	a.input.SetValue(value)
	a.input.CursorEnd()
	return a.input.Focus()
}

// handleInputKey routes keys to the query input.
func (a App) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		a.mode = inputNone
		a.input.Blur()
		return a, nil

	case tea.KeyEnter:
		value := strings.TrimSpace(a.input.Value())
		mode := a.mode
		a.mode = inputNone
		a.input.Blur()
		return a, a.submit(mode, value)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a App) submit(mode inputMode, value string) tea.Cmd {
	switch mode {
	case inputStream:
		return a.run("streaming "+value, func() error {
			_, err := a.reg.StartStreaming(value)
			return err
		})
	case inputProfile:
		return a.run("opened @"+strings.TrimPrefix(value, "@"), func() error {
			_, err := a.reg.OpenProfile(value)
			return err
		})
	case inputTopic:
		return a.run("opened #"+strings.TrimPrefix(value, "#"), func() error {
			_, err := a.reg.OpenTopic(value)
			return err
		})
	}
	return nil
}

// View renders the UI.
func (a App) View() string {
	if !a.ready {
		return "Loading..."
	}

	if a.debug {
		overlay := debugOverlay([]*hub.Hub{a.reg.UserHub(), a.reg.SearchHub()}, a.columns, a.width, a.height-1)
		return lipgloss.Place(a.width, a.height-1, lipgloss.Center, lipgloss.Center, overlay) + "\n" + debugStatusBar(a.width)
	}

	contentHeight := a.height - 1
	var bars []string
	if a.mode != inputNone {
		contentHeight--
		bars = append(bars, a.renderInputBar())
	}
	if a.err != nil {
		contentHeight--
		bars = append(bars, ErrorStyle.Width(a.width).Render("Error: "+a.err.Error()+" (press any key to dismiss)"))
	}

	left := a.status
	if left == "" {
		left = fmt.Sprintf("%d columns", len(a.columns))
	}
	bars = append(bars, RenderStatusBar(left, a.width))

	return a.renderColumns(contentHeight) + "\n" + strings.Join(bars, "\n")
}

// visibleRange returns the slice of columns that fits the width with the
// focused column in view, and the width of each.
func (a App) visibleRange() (start, end, width int) {
	n := len(a.columns)
	if n == 0 {
		return 0, 0, a.width
	}
	fit := a.width / minColumnWidth
	if fit < 1 {
		fit = 1
	}
	if fit > n {
		fit = n
	}
	start = 0
	if a.focus >= fit {
		start = a.focus - fit + 1
	}
	return start, start + fit, a.width / fit
}

func (a App) renderColumns(height int) string {
	if len(a.columns) == 0 {
		return lipgloss.Place(a.width, height, lipgloss.Center, lipgloss.Center,
			HelpStyle.Render("No columns. Press / to stream a search or m to show messages."))
	}

	start, end, width := a.visibleRange()
	now := a.now()
	cols := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		tl := a.columns[i]
		view := columnView{
			Title:  tl.Title(),
			Search: tl.Tag().IsSearch(),
			Busy:   tl.Busy(),
			Items:  tl.Items(),
			Cursor: a.cursors[tl.ID()],
			Err:    a.errs[tl.ID()],
		}
		cols = append(cols, renderColumn(view, width, height, i == a.focus, a.spinner.View(), now))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (a App) renderInputBar() string {
	var prompt string
	switch a.mode {
	case inputStream:
		prompt = "stream: "
	case inputProfile:
		prompt = "profile: "
	case inputTopic:
		prompt = "topic: "
	}
	return InputBar.Width(a.width).Render(InputPrompt.Render(prompt) + a.input.View())
}

// Focus returns the focused column index (for testing).
func (a App) Focus() int {
	return a.focus
}

// Columns returns the columns the App last loaded (for testing).
func (a App) Columns() []*timeline.Timeline {
	return a.columns
}
