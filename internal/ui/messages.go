package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/olivier-w/cloudplay/internal/playback"
)

const frameRate = 20

type tickMsg time.Time
type stateMsg playback.UIState
type alertMsg playback.Alert
type subscriptionClosedMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second/frameRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listen waits for the next store event. It is re-issued after every
// delivered message.
func listen(sub *playback.Subscription) tea.Cmd {
	return func() tea.Msg {
		select {
		case st := <-sub.States:
			return stateMsg(st)
		case a := <-sub.Alerts:
			return alertMsg(a)
		case <-sub.Done:
			return subscriptionClosedMsg{}
		}
	}
}
