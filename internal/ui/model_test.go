package ui

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/cloudplay/internal/playback"
	"github.com/olivier-w/cloudplay/internal/queue"
)

type fakeController struct {
	calls   []string
	items   []queue.Item
	current string
}

func (f *fakeController) Items() []queue.Item { return f.items }
func (f *fakeController) CurrentID() string   { return f.current }
func (f *fakeController) TogglePause()        { f.calls = append(f.calls, "toggle") }
func (f *fakeController) Next()               { f.calls = append(f.calls, "next") }
func (f *fakeController) Previous()           { f.calls = append(f.calls, "previous") }
func (f *fakeController) SeekBy(d int64) error {
	f.calls = append(f.calls, fmt.Sprintf("seek %d", d))
	return nil
}
func (f *fakeController) SetVolume(v float64) {
	f.calls = append(f.calls, fmt.Sprintf("volume %.2f", v))
}
func (f *fakeController) Remove(id string) bool {
	f.calls = append(f.calls, "remove "+id)
	return true
}

type fakeSub struct {
	states chan playback.UIState
	alerts chan playback.Alert
	done   chan struct{}
	sub    *playback.Subscription
}

func newFakeSub() *fakeSub {
	f := &fakeSub{
		states: make(chan playback.UIState, 4),
		alerts: make(chan playback.Alert, 4),
		done:   make(chan struct{}),
	}
	f.sub = &playback.Subscription{States: f.states, Alerts: f.alerts, Done: f.done}
	return f
}

func newTestModel(ctrl *fakeController) (Model, *fakeSub) {
	sub := newFakeSub()
	return New(ctrl, sub.sub), sub
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func playing(title string, posMs int64) playback.UIState {
	return playback.UIState{
		HasSong:       true,
		IsPlaying:     true,
		SongID:        "id-" + title,
		Title:         title,
		Artist:        "Artist",
		DurationSecs:  100,
		CurrentMillis: posMs,
		LyricsLine:    -1,
		Volume:        0.5,
	}
}

func TestListenDeliversStoreEvents(t *testing.T) {
	sub := newFakeSub()

	sub.states <- playback.UIState{Title: "a"}
	if msg, ok := listen(sub.sub)().(stateMsg); !ok || msg.Title != "a" {
		t.Fatalf("expected state message, got %#v", msg)
	}

	sub.alerts <- playback.Alert{Message: "boom"}
	if msg, ok := listen(sub.sub)().(alertMsg); !ok || msg.Message != "boom" {
		t.Fatalf("expected alert message, got %#v", msg)
	}

	close(sub.done)
	if _, ok := listen(sub.sub)().(subscriptionClosedMsg); !ok {
		t.Fatal("expected closed message")
	}
}

func TestKeysDriveController(t *testing.T) {
	ctrl := &fakeController{current: "a"}
	m, _ := newTestModel(ctrl)
	m, _ = m.handleMsg(stateMsg(playing("A", 0)))

	for _, k := range []string{" ", "n", "p", "left", "right", "+", "-", "x"} {
		m, _ = m.handleMsg(key(k))
	}

	want := []string{"toggle", "next", "previous", "seek -5000", "seek 5000", "volume 0.55", "volume 0.45", "remove a"}
	if !reflect.DeepEqual(ctrl.calls, want) {
		t.Fatalf("calls = %v, want %v", ctrl.calls, want)
	}
}

func TestRemoveWithoutCurrentDoesNothing(t *testing.T) {
	ctrl := &fakeController{}
	m, _ := newTestModel(ctrl)
	m.handleMsg(key("x"))
	if len(ctrl.calls) != 0 {
		t.Fatalf("unexpected calls %v", ctrl.calls)
	}
}

func TestQuitKey(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	next, cmd := m.handleMsg(key("q"))
	if !next.quitting || cmd == nil {
		t.Fatal("expected quit")
	}
	if next.View() != "" {
		t.Fatal("expected empty view after quit")
	}
}

func TestStateMsgRefreshesQueue(t *testing.T) {
	ctrl := &fakeController{
		items:   []queue.Item{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}},
		current: "b",
	}
	m, _ := newTestModel(ctrl)
	next, cmd := m.handleMsg(stateMsg(playing("B", 0)))
	if cmd == nil {
		t.Fatal("expected listen to be re-issued")
	}
	if next.currentID != "b" || len(next.items) != 2 {
		t.Fatalf("queue not refreshed: %q %v", next.currentID, next.items)
	}
	if !strings.Contains(next.View(), "▶ B") {
		t.Fatalf("expected current item marked, got %q", next.View())
	}
}

func TestNewSongSnapsPositionBar(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	m, _ = m.handleMsg(stateMsg(playing("A", 60_000)))
	if m.shown != 0.6 {
		t.Fatalf("shown = %v, want snap to 0.6", m.shown)
	}
}

func TestTickSmoothsSmallMoves(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	m, _ = m.handleMsg(stateMsg(playing("A", 50_000)))
	m, _ = m.handleMsg(stateMsg(playing("A", 51_000)))

	prev := m.shown
	for i := 0; i < 5; i++ {
		m, _ = m.handleMsg(tickMsg(time.Now()))
		if m.shown < prev || m.shown > 0.51+1e-9 {
			t.Fatalf("tick %d: shown %v moved outside [%v, 0.51]", i, m.shown, prev)
		}
		prev = m.shown
	}
	if prev <= 0.5 {
		t.Fatalf("expected bar to move toward target, still at %v", prev)
	}
}

func TestTickJumpsOnSeek(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	m, _ = m.handleMsg(stateMsg(playing("A", 10_000)))
	m, _ = m.handleMsg(stateMsg(playing("A", 80_000)))
	m, _ = m.handleMsg(tickMsg(time.Now()))
	if m.shown != 0.8 {
		t.Fatalf("shown = %v, want 0.8", m.shown)
	}
}

func TestAlertsExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	m, _ := newTestModel(&fakeController{})
	m.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		m, _ = m.handleMsg(alertMsg{Message: fmt.Sprintf("alert %d", i), At: now})
	}
	if len(m.alerts) != maxAlerts || m.alerts[0].Message != "alert 1" {
		t.Fatalf("alerts = %v", m.alerts)
	}
	if !strings.Contains(m.View(), "alert 3") {
		t.Fatal("expected alert rendered")
	}

	now = now.Add(alertTTL)
	m, _ = m.handleMsg(tickMsg(now))
	if len(m.alerts) != 0 {
		t.Fatalf("expected alerts to expire, got %v", m.alerts)
	}
}

func TestViewShowsLoadingPhases(t *testing.T) {
	m, _ := newTestModel(&fakeController{})

	st := playing("A", 0)
	st.FetchingMetadata = true
	m, _ = m.handleMsg(stateMsg(st))
	if !strings.Contains(m.View(), "Fetching song") {
		t.Fatalf("expected metadata spinner, got %q", m.View())
	}

	st.FetchingMetadata = false
	st.IsBuffering = true
	st.DownloadProgress = 0.42
	m, _ = m.handleMsg(stateMsg(st))
	if !strings.Contains(m.View(), "Buffering  42%") {
		t.Fatalf("expected buffering progress, got %q", m.View())
	}

	st.IsBuffering = false
	m, _ = m.handleMsg(stateMsg(st))
	view := m.View()
	if !strings.Contains(view, "0:00") || !strings.Contains(view, "1:40") {
		t.Fatalf("expected position line, got %q", view)
	}
}

func TestViewNothingPlaying(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	if !strings.Contains(m.View(), "Nothing playing") {
		t.Fatalf("unexpected view %q", m.View())
	}
}

func TestViewPadsToWindowHeight(t *testing.T) {
	m, _ := newTestModel(&fakeController{})
	m, _ = m.handleMsg(tea.WindowSizeMsg{Width: 60, Height: 30})
	if got := lipgloss.Height(m.View()); got < 30 {
		t.Fatalf("expected padded view height >= 30, got %d", got)
	}
}

func TestRenderLyricsWindow(t *testing.T) {
	lines := []string{"l0", "l1", "l2", "l3", "l4", "l5", "l6", "l7"}

	got := renderLyrics(lines, 6, true)
	if len(got) != lyricsRows {
		t.Fatalf("rows = %d", len(got))
	}
	if !strings.Contains(got[0], "l3") || !strings.Contains(got[4], "l7") {
		t.Fatalf("window = %q", got)
	}

	got = renderLyrics(lines, -1, false)
	if !strings.Contains(got[0], "l0") || len(got) != lyricsRows {
		t.Fatalf("unsynced window = %q", got)
	}
	if renderLyrics(nil, 0, true) != nil {
		t.Fatal("expected nothing for empty lyrics")
	}
}

func TestWindow(t *testing.T) {
	cases := []struct {
		n, focus, rows int
		start, end     int
	}{
		{n: 3, focus: 2, rows: 5, start: 0, end: 3},
		{n: 10, focus: 0, rows: 5, start: 0, end: 5},
		{n: 10, focus: 5, rows: 5, start: 3, end: 8},
		{n: 10, focus: 9, rows: 5, start: 5, end: 10},
	}
	for _, tc := range cases {
		start, end := window(tc.n, tc.focus, tc.rows)
		if start != tc.start || end != tc.end {
			t.Fatalf("window(%d, %d, %d) = [%d, %d), want [%d, %d)", tc.n, tc.focus, tc.rows, start, end, tc.start, tc.end)
		}
	}
}

func TestRenderQueueFallsBackToDisplayID(t *testing.T) {
	rows := renderQueue([]queue.Item{{ID: "a", DisplayID: "abc"}}, "")
	if len(rows) != 1 || !strings.Contains(rows[0], "abc") || strings.Contains(rows[0], "▶") {
		t.Fatalf("rows = %q", rows)
	}
}
