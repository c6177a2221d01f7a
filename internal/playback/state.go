package playback

import (
	"sync"
	"time"

	"github.com/olivier-w/cloudplay/internal/lyrics"
)

const (
	eventBufferSize = 16
	maxAlerts       = 8
)

// UIState is the display projection of the coordinator. It is derived state;
// the player and the queue stay authoritative.
type UIState struct {
	HasSong          bool     `json:"hasSong"`
	IsPlaying        bool     `json:"isPlaying"`
	IsBuffering      bool     `json:"isBuffering"`
	FetchingMetadata bool     `json:"fetchingMetadata"`
	DownloadProgress float64  `json:"downloadProgress"`
	CurrentMillis    int64    `json:"currentMillis"`
	LyricsLine       int      `json:"lyricsLine"`
	Lyrics           []string `json:"lyrics,omitempty"`
	LyricsSynced     bool     `json:"lyricsSynced"`
	SongID           string   `json:"songId,omitempty"`
	DisplayID        string   `json:"displayId,omitempty"`
	Title            string   `json:"title,omitempty"`
	Artist           string   `json:"artist,omitempty"`
	CoverURL         string   `json:"coverUrl,omitempty"`
	DurationSecs     int      `json:"durationSeconds"`
	Volume           float64  `json:"volume"`
}

// Alert is a user-facing failure message.
type Alert struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Subscription delivers state snapshots and alerts. Sends never block; a
// subscriber that falls behind misses updates.
type Subscription struct {
	States <-chan UIState
	Alerts <-chan Alert
	Done   <-chan struct{}

	stateCh chan UIState
	alertCh chan Alert
	doneCh  chan struct{}
}

func newSubscription() *Subscription {
	s := &Subscription{
		stateCh: make(chan UIState, eventBufferSize),
		alertCh: make(chan Alert, eventBufferSize),
		doneCh:  make(chan struct{}),
	}
	s.States = s.stateCh
	s.Alerts = s.alertCh
	s.Done = s.doneCh
	return s
}

func (s *Subscription) sendState(st UIState) {
	select {
	case s.stateCh <- st:
	default:
	}
}

func (s *Subscription) sendAlert(a Alert) {
	select {
	case s.alertCh <- a:
	default:
	}
}

// Store holds the current UIState and fans changes out to subscribers.
type Store struct {
	mu     sync.RWMutex
	state  UIState
	lyrics lyrics.Lyrics
	alerts []Alert
	subs   map[*Subscription]struct{}
}

func newStore(volume float64) *Store {
	return &Store{
		state: UIState{LyricsLine: -1, Volume: volume},
		subs:  make(map[*Subscription]struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Store) copyLocked() UIState {
	st := s.state
	st.Lyrics = append([]string(nil), s.state.Lyrics...)
	return st
}

// Alerts returns the most recent alerts, oldest first.
func (s *Store) Alerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Alert(nil), s.alerts...)
}

// Subscribe registers a new subscriber. The current state is delivered first.
func (s *Store) Subscribe() *Subscription {
	sub := newSubscription()
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	sub.sendState(s.copyLocked())
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its Done channel.
func (s *Store) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.doneCh)
}

// update applies fn and recomputes the active lyrics line.
func (s *Store) update(fn func(*UIState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.state.LyricsLine = s.lyrics.ActiveLine(s.state.CurrentMillis)
	s.broadcastLocked()
}

// setLyrics parses text and replaces the displayed lyrics.
func (s *Store) setLyrics(text string) {
	parsed := lyrics.Parse(text)
	s.update(func(st *UIState) {
		s.lyrics = parsed
		st.Lyrics = parsed.Texts()
		st.LyricsSynced = parsed.Synced
	})
}

func (s *Store) setPosition(ms int64) {
	s.update(func(st *UIState) { st.CurrentMillis = ms })
}

func (s *Store) alert(msg string) {
	a := Alert{Message: msg, At: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	if len(s.alerts) > maxAlerts {
		s.alerts = s.alerts[len(s.alerts)-maxAlerts:]
	}
	for sub := range s.subs {
		sub.sendAlert(a)
	}
}

// reset forgets the song but keeps the volume.
func (s *Store) reset() {
	s.update(func(st *UIState) {
		*st = UIState{Volume: st.Volume}
		s.lyrics = lyrics.Lyrics{}
	})
}

func (s *Store) broadcastLocked() {
	if len(s.subs) == 0 {
		return
	}
	st := s.copyLocked()
	for sub := range s.subs {
		sub.sendState(st)
	}
}

func (s *Store) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.doneCh)
	}
}
