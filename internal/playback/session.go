package playback

import (
	"context"
	"sync"
)

// sessions hands out monotonically increasing play-attempt tokens. Only the
// holder of the current token may touch the UI state or the player. The lock
// is never held across network I/O.
type sessions struct {
	mu      sync.Mutex
	current uint64
	cancel  context.CancelFunc
}

// begin supersedes the running session and returns a new token together with
// a context that is cancelled when the session is superseded or finished.
// onBegin, if not nil, runs under the session lock once the new token is
// current.
func (s *sessions) begin(parent context.Context, onBegin func()) (uint64, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.current++
	s.cancel = cancel
	if onBegin != nil {
		onBegin()
	}
	return s.current, ctx
}

// invalidate supersedes the running session without starting a new one.
// onInvalidate, if not nil, runs under the session lock afterwards.
func (s *sessions) invalidate(onInvalidate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.current++
	if onInvalidate != nil {
		onInvalidate()
	}
}

// finish releases the context of sign if it is still current.
func (s *sessions) finish(sign uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sign == s.current && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *sessions) isCurrent(sign uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sign == s.current
}

// apply runs fn under the session lock if sign is still current and reports
// whether it ran. fn must not start another session.
func (s *sessions) apply(sign uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sign != s.current {
		return false
	}
	fn()
	return true
}
