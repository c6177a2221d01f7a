// Package player plays in-memory audio buffers and reports playback events.
package player

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/olivier-w/cloudplay/internal/media"
)

// EventKind identifies a playback event.
type EventKind int

const (
	EventPlay EventKind = iota
	EventPause
	EventEnd
	EventError
	EventSeek
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventSeek:
		return "seek"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to listeners. PositionMs is set for seek events, Err
// for error events.
type Event struct {
	Kind       EventKind
	PositionMs int64
	Err        error
}

// Listener receives player events. Listeners run on the player's goroutines
// and must not block.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID uuid.UUID

// Item is the playable bundle handed to Prepare.
type Item struct {
	Title  string
	Artist string
	Audio  []byte
	Cover  []byte
	Format media.Format
}

// Player is the audio output capability used by the playback coordinator.
type Player interface {
	// Prepare replaces the current track. With autoPlay the new track starts
	// immediately.
	Prepare(item Item, autoPlay bool) error
	Play()
	Pause()
	// Seek moves to positionMs. With autoStart a paused track resumes.
	Seek(positionMs int64, autoStart bool) error
	Volume() float64
	SetVolume(v float64)
	IsPlaying() bool
	CurrentPosition() int64
	AddListener(fn Listener) ListenerID
	RemoveListener(id ListenerID)
	Close() error
}

type listenerSet struct {
	mu sync.RWMutex
	m  map[ListenerID]Listener
}

func (s *listenerSet) add(fn Listener) ListenerID {
	id := ListenerID(uuid.New())
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[ListenerID]Listener)
	}
	s.m[id] = fn
	s.mu.Unlock()
	return id
}

func (s *listenerSet) remove(id ListenerID) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}

// emit calls every listener outside the lock so listeners may add or remove
// listeners themselves.
func (s *listenerSet) emit(ev Event) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.m))
	for _, fn := range s.m {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
