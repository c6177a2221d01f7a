package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/cloudplay/internal/playback"
	"github.com/olivier-w/cloudplay/internal/queue"
	"github.com/olivier-w/cloudplay/internal/util"
)

const (
	alertTTL  = 6 * time.Second
	maxAlerts = 3
)

// Controller is the slice of the playback coordinator the TUI drives.
type Controller interface {
	Items() []queue.Item
	CurrentID() string
	TogglePause()
	Next()
	Previous()
	SeekBy(deltaMs int64) error
	SetVolume(v float64)
	Remove(id string) bool
}

// Model is the Bubbletea model for the cloudplay TUI.
type Model struct {
	ctrl Controller
	sub  *playback.Subscription

	state     playback.UIState
	items     []queue.Item
	currentID string
	alerts    []playback.Alert

	spinner  spinner.Model
	download progress.Model
	position positionSpring
	shown    float64 // smoothed progress ratio

	width    int
	height   int
	quitting bool
	now      func() time.Time
}

// New creates a Model fed by sub. The caller owns sub and unsubscribes it
// after the program exits.
func New(ctrl Controller, sub *playback.Subscription) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	p := progress.New(
		progress.WithScaledGradient("#FF8C00", "#FF5F1F"),
		progress.WithoutPercentage(),
	)

	return Model{
		ctrl:     ctrl,
		sub:      sub,
		state:    playback.UIState{LyricsLine: -1},
		spinner:  s,
		download: p,
		position: newPositionSpring(),
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listen(m.sub), tickCmd(), tea.SetWindowTitle("cloudplay"))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m.handleMsg(msg)
}

func (m Model) handleMsg(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case stateMsg:
		prev := m.state
		m.state = playback.UIState(msg)
		m.items = m.ctrl.Items()
		m.currentID = m.ctrl.CurrentID()
		if prev.SongID != m.state.SongID || prev.Title != m.state.Title {
			m.position.snap(m.ratio())
			m.shown = m.position.pos
		}
		cmds := []tea.Cmd{listen(m.sub)}
		if prev.Title != m.state.Title || prev.IsPlaying != m.state.IsPlaying {
			cmds = append(cmds, tea.SetWindowTitle(windowTitle(m.state)))
		}
		return m, tea.Batch(cmds...)

	case alertMsg:
		m.alerts = append(m.alerts, playback.Alert(msg))
		if len(m.alerts) > maxAlerts {
			m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
		}
		return m, listen(m.sub)

	case subscriptionClosedMsg:
		m.quitting = true
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)

	case tickMsg:
		m.shown = m.position.step(m.ratio())
		m.expireAlerts()
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if isQuit(msg) {
		m.quitting = true
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
	}
	switch msg.String() {
	case " ":
		m.ctrl.TogglePause()
	case "n":
		m.ctrl.Next()
	case "p":
		m.ctrl.Previous()
	case "left", "h":
		m.ctrl.SeekBy(-seekStepMs)
	case "right", "l":
		m.ctrl.SeekBy(seekStepMs)
	case "+", "=", "up":
		m.ctrl.SetVolume(m.state.Volume + volumeStep)
	case "-", "down":
		m.ctrl.SetVolume(m.state.Volume - volumeStep)
	case "x":
		if m.currentID != "" {
			m.ctrl.Remove(m.currentID)
		}
	}
	return m, nil
}

func (m Model) ratio() float64 {
	if m.state.DurationSecs <= 0 {
		return 0
	}
	return float64(m.state.CurrentMillis) / float64(m.state.DurationSecs*1000)
}

func (m *Model) expireAlerts() {
	now := m.now()
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if now.Sub(a.At) < alertTTL {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	w := m.width
	if w < 30 {
		w = 50
	}

	var b strings.Builder
	line := func(s string) {
		b.WriteString("  " + s + "\n")
	}

	b.WriteString("\n")
	line(headerStyle.Render("cloudplay"))
	b.WriteString("\n")

	st := m.state
	if !st.HasSong {
		line(statusStyle.Render("Nothing playing"))
	} else {
		title := st.Title
		if title == "" {
			title = st.DisplayID
		}
		line(titleStyle.Render(title))
		if st.Artist != "" {
			line(artistStyle.Render(st.Artist))
		}
		b.WriteString("\n")
		line(m.progressLine(w))
		b.WriteString("\n")
		line(m.statusLine(w))

		if lyrics := renderLyrics(st.Lyrics, st.LyricsLine, st.LyricsSynced); len(lyrics) > 0 {
			b.WriteString("\n")
			for _, l := range lyrics {
				line(l)
			}
		}
	}

	if rows := renderQueue(m.items, m.currentID); len(rows) > 0 {
		b.WriteString("\n")
		line(headerStyle.Render(fmt.Sprintf("Queue (%d)", len(m.items))))
		for _, r := range rows {
			line(r)
		}
	}

	if len(m.alerts) > 0 {
		b.WriteString("\n")
		for _, a := range m.alerts {
			line(alertStyle.Render(a.Message))
		}
	}

	b.WriteString("\n")
	line(helpStyle.Render(helpText(len(m.items) > 0)))

	view := b.String()
	if pad := m.height - lipgloss.Height(view); pad > 0 {
		view += strings.Repeat("\n", pad)
	}
	return view
}

// progressLine shows what the player is waiting for, or the position bar.
func (m Model) progressLine(w int) string {
	st := m.state
	switch {
	case st.FetchingMetadata:
		return m.spinner.View() + " " + statusStyle.Render("Fetching song...")
	case st.IsBuffering:
		m.download.Width = max(w-20, 10)
		pct := fmt.Sprintf("Buffering %3d%%", int(st.DownloadProgress*100))
		return m.download.ViewAs(st.DownloadProgress) + " " + statusStyle.Render(pct)
	}

	elapsed := util.FormatMillis(st.CurrentMillis)
	total := util.FormatSeconds(st.DurationSecs)
	barWidth := w - len(elapsed) - len(total) - 6
	if barWidth < 10 {
		barWidth = 10
	}
	return fmt.Sprintf("%s %s %s", timeStyle.Render(elapsed), renderProgressBar(m.shown, barWidth), timeStyle.Render(total))
}

func (m Model) statusLine(w int) string {
	statusIcon := "▶"
	statusText := "playing"
	if !m.state.IsPlaying {
		statusIcon = "❚❚"
		statusText = "paused"
	}
	leftText := fmt.Sprintf("%s  %s", statusIcon, statusText)
	volStr := renderVolumePercent(m.state.Volume)

	// Right-align volume
	gap := w - lipgloss.Width(leftText) - len(volStr) - 4
	if gap < 2 {
		gap = 2
	}
	return statusStyle.Render(leftText) + spaces(gap) + statusStyle.Render(volStr)
}

func windowTitle(st playback.UIState) string {
	if !st.HasSong {
		return "cloudplay"
	}
	if !st.IsPlaying {
		return "⏸ " + st.Title + " · cloudplay"
	}
	return "▶ " + st.Title + " · cloudplay"
}

func spaces(n int) string {
	if n < 0 {
		n = 0
	}
	return strings.Repeat(" ", n)
}
