// ABOUTME: Bubbletea model for the bridge TUI
// ABOUTME: Defines operator-facing state and update logic
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/TriggerSync-Protocol/triggersync-go/pkg/triggersync"
)

// interiorWidth is the printable width between the box borders.
const interiorWidth = 56

// Model represents the TUI state
type Model struct {
	// Session
	device     string
	sessionID  string
	feedAddr   string
	outputPath string

	// Engine snapshot
	haveStats   bool
	stats       triggersync.HostStats
	subscribers int

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := m.renderHeader()
	s += m.renderClock()
	s += m.renderTriggers()
	s += m.renderOutputs()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders the device link status
func (m Model) renderHeader() string {
	device := m.device
	if device == "" {
		device = "(none)"
	}

	icon, text := "✗", "waiting for device"
	if m.haveStats {
		switch {
		case m.stats.State == triggersync.StateSynchronizing && m.stats.Model.Ready:
			icon, text = "✓", m.stats.State.String()
		case m.stats.State == triggersync.StateSynchronizing:
			icon, text = "⚠", m.stats.State.String()+" (clock warming up)"
		default:
			icon, text = "✗", m.stats.State.String()
		}
	}

	s := "┌─ TriggerSync Bridge ─────────────────────────────────────┐\n"
	s += boxLine(fmt.Sprintf("Device: %s", device))
	s += boxLine(fmt.Sprintf("Link:   %s %s", icon, text))
	s += "├──────────────────────────────────────────────────────────┤\n"
	return s
}

// renderClock renders the clock model summary
func (m Model) renderClock() string {
	if !m.haveStats {
		return boxLine("No engine statistics yet")
	}

	mod := m.stats.Model
	state := "warming up"
	if mod.Ready {
		state = "ready"
	}

	s := boxLine(fmt.Sprintf("Clock:  %s (%d samples in window)", state, mod.Samples))
	if mod.Ready {
		s += boxLine(fmt.Sprintf("  Gain:   %.6f us/tick", mod.Gain))
		s += boxLine(fmt.Sprintf("  Offset: %+.1f us", mod.OffsetMicros))
	}
	s += boxLine(fmt.Sprintf("  Accepted: %d  Rejected: %d  Resets: %d",
		mod.Accepted, mod.Rejected, mod.Resets))
	return s
}

// renderTriggers renders the trigger tally and the last event
func (m Model) renderTriggers() string {
	if !m.haveStats {
		return ""
	}

	s := boxLine("")
	s += boxLine(fmt.Sprintf("Triggers: %d resolved, %d lost",
		m.stats.TriggersResolved, m.stats.TriggersLost))
	if m.stats.LastTrigger.Sequence > 0 {
		s += boxLine(fmt.Sprintf("  Last: %s (tick %d)",
			m.stats.LastTrigger.Time.UTC().Format(time.RFC3339Nano),
			m.stats.LastTrigger.Tick))
	}
	return s
}

// renderOutputs renders the feed and CSV destinations
func (m Model) renderOutputs() string {
	s := "├──────────────────────────────────────────────────────────┤\n"
	if m.feedAddr != "" {
		s += boxLine(fmt.Sprintf("Feed: %s (%d subscribers)", m.feedAddr, m.subscribers))
	} else {
		s += boxLine("Feed: disabled")
	}
	if m.outputPath != "" {
		s += boxLine(fmt.Sprintf("CSV:  %s", m.outputPath))
	} else {
		s += boxLine("CSV:  disabled")
	}
	return s
}

// renderDebug renders link counters
func (m Model) renderDebug() string {
	s := boxLine("DEBUG:")
	s += boxLine(fmt.Sprintf("  Pings sent: %d  Pongs received: %d",
		m.stats.PingsSent, m.stats.PongsReceived))
	s += boxLine(fmt.Sprintf("  Frames dropped: %d  Decode errors: %d",
		m.stats.FramesDropped, m.stats.DecodeErrors))
	s += boxLine(fmt.Sprintf("  Session: %s", m.sessionID))
	return s
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return boxLine("d:Debug  q:Quit") +
		"└──────────────────────────────────────────────────────────┘\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from a status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Device != "" {
		m.device = msg.Device
	}
	if msg.SessionID != "" {
		m.sessionID = msg.SessionID
	}
	if msg.FeedAddr != "" {
		m.feedAddr = msg.FeedAddr
	}
	if msg.OutputPath != "" {
		m.outputPath = msg.OutputPath
	}
	if msg.Stats != nil {
		m.haveStats = true
		m.stats = *msg.Stats
		m.subscribers = msg.Subscribers
	}
}

// StatusMsg updates TUI state. Empty strings leave the previous value;
// Subscribers is applied together with Stats.
type StatusMsg struct {
	Device     string
	SessionID  string
	FeedAddr   string
	OutputPath string

	Stats       *triggersync.HostStats
	Subscribers int
}

// boxLine pads one line of text to the box interior
func boxLine(s string) string {
	return fmt.Sprintf("│ %-*s │\n", interiorWidth, truncate(s, interiorWidth))
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
