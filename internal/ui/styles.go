package ui

import "github.com/charmbracelet/lipgloss"

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorError     = lipgloss.Color("196") // Red
)

// ColumnBox frames an unfocused column.
var ColumnBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorMuted).
	Padding(0, 1)

// FocusedColumnBox frames the focused column.
var FocusedColumnBox = ColumnBox.
	BorderForeground(colorPrimary)

// ColumnTitle style for column headers.
var ColumnTitle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)

// SearchTitle style for streaming search column headers.
var SearchTitle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorSuccess)

// SelectedItem style for the currently highlighted item.
var SelectedItem = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary)

// NormalItem style for unselected items.
var NormalItem = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255"))

// AuthorStyle for the "@handle" line of an item.
var AuthorStyle = lipgloss.NewStyle().
	Foreground(colorPrimary).
	Bold(true)

// MetaItem style for ages and counts.
var MetaItem = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ReplyMarker style for the reply indicator.
var ReplyMarker = lipgloss.NewStyle().
	Foreground(colorMuted)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(colorError).
	Bold(true).
	Padding(0, 1)

// HelpStyle for help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(colorMuted)

// InputBar style for the query input bar.
var InputBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("240")).
	Padding(0, 1)

// InputPrompt style for the input prompt.
var InputPrompt = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// DebugPanel frames the connection overlay.
var DebugPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(1, 2)

// DebugHeaderStyle for overlay section headers.
var DebugHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorHighlight)
