package tui

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// View types.
const (
	ViewStats   = "stats"
	ViewSync    = "sync"
	ViewHistory = "history"
)

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewStats, ViewSync, ViewHistory}
}

// Run starts the TUI for viewType.
func Run(viewType string, data any) error {
	m, err := NewModel(viewType, data)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// RenderStatic renders a view without starting a program.
func RenderStatic(viewType string, data any) (string, error) {
	m, err := NewModel(viewType, data)
	if err != nil {
		return "", err
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View()), nil
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}

// Model is a scrollable read-only view.
type Model struct {
	viewType string
	lines    []string
	offset   int
	width    int
	height   int
	quitting bool
}

// NewModel renders data for viewType into a model.
func NewModel(viewType string, data any) (Model, error) {
	if !IsTUISupported(viewType) {
		return Model{}, fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	content, err := render(viewType, data)
	if err != nil {
		return Model{}, err
	}
	return Model{viewType: viewType, lines: strings.Split(content, "\n")}, nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.offset = min(m.offset, m.maxOffset())
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			m.offset = max(m.offset-1, 0)
		case key.Matches(msg, keys.Down):
			m.offset = min(m.offset+1, m.maxOffset())
		}
	}
	return m, nil
}

// bodyHeight is the number of content lines that fit above the help line.
func (m Model) bodyHeight() int {
	if m.height <= 0 {
		return len(m.lines)
	}
	return max(m.height-2, 1)
}

func (m Model) maxOffset() int {
	return max(len(m.lines)-m.bodyHeight(), 0)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	end := min(m.offset+m.bodyHeight(), len(m.lines))
	body := strings.Join(m.lines[m.offset:end], "\n")
	help := HelpStyle.Render("↑/↓ scroll • q quit")
	return body + "\n" + help
}

func render(viewType string, data any) (string, error) {
	switch viewType {
	case ViewStats:
		return renderStats(data)
	case ViewSync:
		return renderSync(data)
	case ViewHistory:
		return renderHistory(data)
	default:
		return "", fmt.Errorf("unknown view type: %s", viewType)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
