package api

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session holds the bearer token of the signed-in user, if any. Tokens are
// issued elsewhere; the client only needs to know whether one is usable.
type Session struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewSession returns a session carrying token. An empty token means anonymous.
func NewSession(token string) *Session {
	return &Session{token: token, now: time.Now}
}

// Token returns the raw bearer token.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token. An empty token signs the session out.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// LoggedIn reports whether requests should be sent as the signed-in user.
// The token's exp claim is read without verifying the signature; the server
// is the authority on validity. Opaque (non-JWT) tokens count as signed in.
func (s *Session) LoggedIn() bool {
	token := s.Token()
	if token == "" {
		return false
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return s.clock().Before(claims.ExpiresAt.Time)
}

func (s *Session) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
