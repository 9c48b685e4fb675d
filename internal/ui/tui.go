// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the bridge UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run builds the TUI program. The caller starts it with p.Run() and
// pushes StatusMsg updates through p.Send().
func Run() (*tea.Program, error) {
	p := tea.NewProgram(NewModel(), tea.WithAltScreen())
	return p, nil
}
