package player

import (
	"sync"
)

// Mock is an in-memory Player. It never produces sound; tests drive its
// lifecycle with Finish, Fail and SetPosition.
type Mock struct {
	mu        sync.Mutex
	prepared  []Item
	playing   bool
	position  int64
	volume    float64
	seeks     []int64
	closed    bool
	listeners listenerSet

	// PrepareErr, when set, is returned by Prepare.
	PrepareErr error
}

// NewMock returns a mock at full volume.
func NewMock() *Mock {
	return &Mock{volume: 1}
}

func (m *Mock) Prepare(item Item, autoPlay bool) error {
	m.mu.Lock()
	if m.PrepareErr != nil {
		err := m.PrepareErr
		m.mu.Unlock()
		return err
	}
	m.prepared = append(m.prepared, item)
	m.position = 0
	m.playing = autoPlay
	m.mu.Unlock()
	if autoPlay {
		m.listeners.emit(Event{Kind: EventPlay})
	}
	return nil
}

func (m *Mock) Play() {
	m.mu.Lock()
	if m.playing || len(m.prepared) == 0 {
		m.mu.Unlock()
		return
	}
	m.playing = true
	m.mu.Unlock()
	m.listeners.emit(Event{Kind: EventPlay})
}

func (m *Mock) Pause() {
	m.mu.Lock()
	if !m.playing {
		m.mu.Unlock()
		return
	}
	m.playing = false
	m.mu.Unlock()
	m.listeners.emit(Event{Kind: EventPause})
}

func (m *Mock) Seek(positionMs int64, autoStart bool) error {
	m.mu.Lock()
	if len(m.prepared) == 0 {
		m.mu.Unlock()
		return ErrNotLoaded
	}
	if positionMs < 0 {
		positionMs = 0
	}
	m.position = positionMs
	m.seeks = append(m.seeks, positionMs)
	started := autoStart && !m.playing
	if autoStart {
		m.playing = true
	}
	m.mu.Unlock()
	m.listeners.emit(Event{Kind: EventSeek, PositionMs: positionMs})
	if started {
		m.listeners.emit(Event{Kind: EventPlay})
	}
	return nil
}

func (m *Mock) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *Mock) SetVolume(v float64) {
	m.mu.Lock()
	m.volume = clampVolume(v)
	m.mu.Unlock()
}

func (m *Mock) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *Mock) CurrentPosition() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *Mock) AddListener(fn Listener) ListenerID { return m.listeners.add(fn) }
func (m *Mock) RemoveListener(id ListenerID)       { m.listeners.remove(id) }

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.playing = false
	m.mu.Unlock()
	return nil
}

// SetPosition moves the reported position without emitting events.
func (m *Mock) SetPosition(ms int64) {
	m.mu.Lock()
	m.position = ms
	m.mu.Unlock()
}

// Finish ends the current track.
func (m *Mock) Finish() {
	m.mu.Lock()
	m.playing = false
	m.mu.Unlock()
	m.listeners.emit(Event{Kind: EventEnd})
}

// Fail reports a playback error.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	m.playing = false
	m.mu.Unlock()
	m.listeners.emit(Event{Kind: EventError, Err: err})
}

// Prepared returns every item handed to Prepare, oldest first.
func (m *Mock) Prepared() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.prepared...)
}

// Last returns the most recently prepared item.
func (m *Mock) Last() (Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prepared) == 0 {
		return Item{}, false
	}
	return m.prepared[len(m.prepared)-1], true
}

// Seeks returns every position passed to Seek.
func (m *Mock) Seeks() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.seeks...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var (
	_ Player = (*Mock)(nil)
	_ Player = (*Engine)(nil)
)
