package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/voxhq/vox/internal/session"
	"github.com/voxhq/vox/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// actionTimeout bounds a start request issued from the keyboard.
const actionTimeout = 30 * time.Second

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusNotes PanelFocus = iota
	FocusPreview
)

// Model is the root bubbletea model for the vox TUI. It never holds session
// state of its own: every frame renders the latest controller view.
type Model struct {
	scope  *session.Scope
	view   session.View
	labels Labels
	bars   *ui.Bars

	// Note list
	selectedID    string
	previewScroll int

	// UI state
	focusedPanel PanelFocus
	width        int
	height       int

	// Errors that do not come from the session state
	errorMessage   string
	errorTransient bool
}

// New creates a Model reading from scope. labels may be nil.
func New(scope *session.Scope, labels Labels) Model {
	if labels == nil {
		labels = DefaultLabels()
	}
	return Model{
		scope:        scope,
		view:         session.View{},
		labels:       labels,
		bars:         ui.NewBars(ui.BarCount),
		focusedPanel: FocusNotes,
	}
}

// SetBars changes the number of visualizer bars.
func (m *Model) SetBars(n int) {
	m.bars.Resize(max(n, 1))
}

// Init loads the current view and starts the visualizer clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(viewCmd(m.scope), tickCmd())
}

// viewCmd reads the current controller view.
func viewCmd(scope *session.Scope) tea.Cmd {
	return func() tea.Msg {
		vox, err := scope.Vox()
		if err != nil {
			return ActionErrorMsg{Err: err}
		}
		return StateMsg{View: vox.View}
	}
}

// toggleCmd runs Toggle off the event loop. The controller notifies
// subscribers synchronously, and the subscriber feeds this program.
func toggleCmd(scope *session.Scope) tea.Cmd {
	return func() tea.Msg {
		controls, err := scope.Controls()
		if err != nil {
			return ActionErrorMsg{Err: err, Transient: true}
		}
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		controls.Toggle(ctx)
		return nil
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(ui.BarInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StateMsg:
		if msg.View.Version < m.view.Version {
			return m, nil
		}
		if msg.View.SessionID != m.view.SessionID {
			m.selectedID = ""
			m.previewScroll = 0
		}
		m.view = msg.View
		if _, ok := m.view.Note(m.selectedID); !ok {
			m.selectedID = ""
		}
		if !m.errorTransient {
			m.errorMessage = ""
		}
		return m, nil

	case ActionErrorMsg:
		m.errorMessage = msg.Err.Error()
		m.errorTransient = msg.Transient
		if msg.Transient {
			return m, clearTransientErrorCmd()
		}
		return m, nil

	case TickMsg:
		var levels []float32
		if vox, err := m.scope.Vox(); err == nil {
			levels = vox.AnalyzerBandLevels(m.bars.Len())
		}
		m.bars.Step(m.view.IsRecording(), levels)
		return m, tickCmd()

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		return m, tea.Quit

	case KeySpace:
		return m, toggleCmd(m.scope)

	case KeyTab:
		if m.focusedPanel == FocusNotes {
			m.focusedPanel = FocusPreview
		} else {
			m.focusedPanel = FocusNotes
		}

	case KeyEnter:
		m.focusedPanel = FocusPreview

	case KeyEsc:
		m.focusedPanel = FocusNotes

	case KeyJ, KeyDown:
		if m.focusedPanel == FocusNotes {
			m.moveSelection(1)
		} else {
			m.previewScroll = min(m.previewScroll+1, m.maxPreviewScroll())
		}

	case KeyK, KeyUp:
		if m.focusedPanel == FocusNotes {
			m.moveSelection(-1)
		} else {
			m.previewScroll = max(m.previewScroll-1, 0)
		}

	case KeyHome:
		m.previewScroll = 0

	case KeyEnd:
		m.previewScroll = m.maxPreviewScroll()
	}

	return m, nil
}

// selected returns the note shown in the preview: the one picked with j/k,
// else the controller's primary note.
func (m Model) selected() (session.Note, bool) {
	if m.selectedID != "" {
		if n, ok := m.view.Note(m.selectedID); ok {
			return n, true
		}
	}
	return m.view.Primary()
}

func (m Model) selectedIndex(notes []session.Note) int {
	n, ok := m.selected()
	if !ok {
		return -1
	}
	for i := range notes {
		if notes[i].ID == n.ID {
			return i
		}
	}
	return -1
}

func (m *Model) moveSelection(delta int) {
	notes := m.view.Notes()
	if len(notes) == 0 {
		return
	}
	i := m.selectedIndex(notes)
	if i < 0 {
		i = 0
	} else {
		i = min(max(i+delta, 0), len(notes)-1)
	}
	if notes[i].ID != m.selectedID {
		m.previewScroll = 0
	}
	m.selectedID = notes[i].ID
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) notesPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(24, m.width*35/100)
}

func (m Model) previewPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.notesPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	// Main content: notes | preview
	sections = append(sections, m.renderMainContent())

	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if bar := m.renderErrorBar(); bar != "" {
		sections = append(sections, bar)
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("VOX")
	if m.view.SessionID != "" {
		title += ui.DimStyle.Render(" · " + m.view.SessionID)
	}
	return title
}

func (m Model) renderStatusBar() string {
	status := m.view.Status()
	if status == "" {
		status = session.StatusIdle
	}

	dot := "○"
	if m.view.IsRecording() {
		dot = "●"
	}

	bar := ui.StatusDotStyle(status).Render(dot) + " " +
		ui.StatusBannerStyle(status).Render(m.labels.For(status))

	if m.view.IsRecording() || hasLevel(m.bars.Levels()) {
		bar += "  " + ui.BarStyle.Render(m.bars.Render())
	}

	if n := len(m.view.Notes()); n > 0 {
		bar += ui.DimStyle.Render(fmt.Sprintf("  %d note%s", n, plural(n)))
	}
	return bar
}

func hasLevel(levels []float64) bool {
	for _, l := range levels {
		if l > 0 {
			return true
		}
	}
	return false
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func (m Model) renderMainContent() string {
	notesW := m.notesPanelWidth()
	previewW := m.previewPanelWidth()
	contentH := m.contentHeight()

	notesPanel := m.renderNotesPanel(notesW, contentH)
	previewPanel := m.renderPreviewPanel(previewW, contentH)

	divider := ui.DividerStyle.Render("│")

	noteLines := strings.Split(notesPanel, "\n")
	previewLines := strings.Split(previewPanel, "\n")

	var rows []string
	for i := 0; i < contentH; i++ {
		nl := strings.Repeat(" ", notesW)
		if i < len(noteLines) {
			nl = noteLines[i]
		}
		pl := ""
		if i < len(previewLines) {
			pl = previewLines[i]
		}
		rows = append(rows, nl+divider+pl)
	}

	return strings.Join(rows, "\n")
}

func (m Model) renderNotesPanel(width, height int) string {
	notes := m.view.Notes()

	title := fmt.Sprintf("NOTES (%d)", len(notes))
	var header string
	if m.focusedPanel == FocusNotes {
		header = ui.PanelTitleActiveStyle.Render(title)
	} else {
		header = ui.PanelTitleStyle.Render(title)
	}

	lines := []string{header}

	if len(notes) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No notes yet."))
	} else {
		sel := m.selectedIndex(notes)
		for i, n := range notes {
			badge := ui.BadgeStyle(n.Status).Render(string(n.Status))
			nameW := max(4, width-lipgloss.Width(badge)-4)
			name := truncateToWidth(n.Name, nameW)

			var line string
			if i == sel && m.focusedPanel == FocusNotes {
				line = ui.SelectedStyle.Render("> " + name)
			} else if i == sel {
				line = "> " + name
			} else {
				line = "  " + name
			}
			gap := max(1, width-lipgloss.Width(line)-lipgloss.Width(badge))
			lines = append(lines, line+strings.Repeat(" ", gap)+badge)
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}

	return strings.Join(lines, "\n")
}

// previewLines returns the unstyled body of the preview panel.
func (m Model) previewLines(width int) []string {
	status := m.view.Status()

	if len(m.view.Notes()) == 0 {
		if status == session.StatusRecording {
			return []string{"Listening for speech..."}
		}
		return []string{"No notes available."}
	}

	n, ok := m.selected()
	if !ok {
		return []string{"Select a note to preview."}
	}
	if n.Status != session.NoteReady {
		return []string{fmt.Sprintf("This note is %s.", n.Status)}
	}
	return wrapText(n.Content, width)
}

func (m Model) maxPreviewScroll() int {
	visible := m.contentHeight() - 1
	total := len(m.previewLines(max(10, m.previewPanelWidth()-2)))
	if total <= visible {
		return 0
	}
	return total - visible
}

func (m Model) renderPreviewPanel(width, height int) string {
	title := "PREVIEW"
	if n, ok := m.selected(); ok && n.Name != "" {
		title += " · " + n.Name
	}

	var header string
	if m.focusedPanel == FocusPreview {
		header = ui.PanelTitleActiveStyle.Render(title)
	} else {
		header = ui.PanelTitleStyle.Render(title)
	}
	lines := []string{truncateToWidth(header, width)}

	body := m.previewLines(max(10, width-2))
	n, ok := m.selected()
	ready := ok && n.Status == session.NoteReady && len(m.view.Notes()) > 0

	start := min(m.previewScroll, max(0, len(body)-(height-1)))
	for _, l := range body[start:] {
		switch {
		case !ready:
			lines = append(lines, ui.DimStyle.Render("  "+l))
		case strings.HasPrefix(l, "#"):
			lines = append(lines, "  "+ui.MarkdownHeadingStyle.Render(strings.TrimLeft(l, "# ")))
		default:
			lines = append(lines, "  "+l)
		}
		if len(lines) >= height {
			break
		}
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderErrorBar() string {
	if err := m.view.Err(); err != nil {
		if transient(err) {
			return ui.WarningStyle.Render("Warning: ") + ui.DimStyle.Render(err.Error())
		}
		return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(err.Error())
	}
	if m.errorMessage != "" {
		return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
	}
	return ""
}

// transient reports whether the service marked err as expected to pass.
func transient(err error) bool {
	var t interface{ IsTransient() bool }
	return errors.As(err, &t) && t.IsTransient()
}

func (m Model) renderFooter() string {
	var parts []string

	if m.view.IsRecording() {
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Stop"))
	} else {
		parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Record"))
	}
	parts = append(parts, ui.FooterKeyStyle.Render("Tab")+ui.FooterDescStyle.Render(" Focus"))
	parts = append(parts, ui.FooterKeyStyle.Render("j/k")+ui.FooterDescStyle.Render(" Nav"))
	parts = append(parts, ui.FooterKeyStyle.Render("g/G")+ui.FooterDescStyle.Render(" Top/End"))
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 1 && len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
