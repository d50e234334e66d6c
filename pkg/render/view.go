package render

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/immateria/codex-mod-sub007/pkg/engine/history"
)

// OverlayKind enumerates the modal overlays the renderer supports: while one
// is visible, mouse and keyboard events are consumed by it and never reach
// history scrolling.
type OverlayKind string

const (
	OverlayNone       OverlayKind = ""
	OverlaySettings   OverlayKind = "settings"
	OverlayScreenshot OverlayKind = "screenshot"
	OverlayDiff       OverlayKind = "diff"
	OverlayHelp       OverlayKind = "help"
	OverlayLimits     OverlayKind = "limits"
)

// Overlay is a modal view rendered on top of the scrollback. Implementations
// decide their own key handling and return the composed body to draw.
type Overlay interface {
	Kind() OverlayKind
	Update(msg tea.Msg) (Overlay, tea.Cmd)
	View(width, height int) string
}

// RedrawMsg is sent on the tea.Program's channel whenever the History
// Store has mutated and a frame needs recomposing.
type RedrawMsg struct{}

// Model is the bubbletea tea.Model driving the virtualized scrollback view.
// It holds no authoritative state of its own: it
// projects the History Store via HistoryRenderState and tracks only the
// viewport's own transient UI state (size, scroll offset, overlay).
type Model struct {
	Store *history.Store
	State *HistoryRenderState
	Queue *RedrawQueue

	width, height int
	scrollOffset  int // rows from bottom; 0 = pinned to bottom
	overlay       Overlay

	ReasoningVisible bool
}

// NewModel constructs a Model bound to store. If queue is nil, draws are
// requested immediately (debounce disabled) since the caller has no
// external ticker driving tea.Program.
func NewModel(store *history.Store, queue *RedrawQueue) *Model {
	if queue == nil {
		queue = NewRedrawQueue(0)
	}
	return &Model{
		Store: store,
		State: NewHistoryRenderState(),
		Queue: queue,
	}
}

// NotifyMutation is the integration point a caller invokes right after
// Store.ApplyDomainEvent: it updates the cell cache precisely from the
// returned Mutation and schedules a debounced redraw.
func (m *Model) NotifyMutation(mut history.Mutation) {
	m.State.Apply(m.Store, mut)
	m.Queue.RequestDraw()
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.overlay != nil {
		next, cmd := m.overlay.Update(msg)
		m.overlay = next
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.State.invalidateLayout()
		return m, nil

	case tea.KeyMsg:
		m.Queue.RequestImmediateDraw()
		switch msg.String() {
		case "up", "k":
			m.scroll(1)
		case "down", "j":
			m.scroll(-1)
		case "pgup":
			m.scroll(m.pageSize())
		case "pgdown":
			m.scroll(-m.pageSize())
		case "home":
			m.scrollOffset = m.State.TotalHeight()
		case "end", "G":
			m.scrollOffset = 0
		case "r":
			m.ReasoningVisible = !m.ReasoningVisible
			m.State.SetReasoningVisible(m.Store, m.ReasoningVisible)
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil

	case RedrawMsg:
		return m, nil
	}
	return m, nil
}

func (m *Model) pageSize() int {
	if m.height <= 1 {
		return 1
	}
	return m.height - 1
}

func (m *Model) scroll(delta int) {
	m.scrollOffset += delta
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
	}
}

// ShowOverlay installs a modal overlay, consuming subsequent input.
func (m *Model) ShowOverlay(o Overlay) { m.overlay = o }

// DismissOverlay removes the active overlay, if any.
func (m *Model) DismissOverlay() { m.overlay = nil }

func (m *Model) View() string {
	width, height := m.width, m.height
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	if m.overlay != nil {
		return m.overlay.View(width, height)
	}
	frame := ComposeFrame(m.Store, m.State, width, height, m.scrollOffset)
	return frame.Render()
}
