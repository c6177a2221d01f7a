package ui

import tea "github.com/charmbracelet/bubbletea"

const (
	seekStepMs = 5000
	volumeStep = 0.05
)

func isQuit(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

func helpText(hasQueue bool) string {
	s := "space pause  ←/→ seek  +/- volume"
	if hasQueue {
		s += "  n/p track  x remove"
	}
	s += "  q quit"
	return s
}
