package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound covers unknown ids. Expired sessions surface as
	// ErrSessionExpired internally, but the transport layer answers both
	// identically so callers cannot probe for session existence.
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExpired  = errors.New("session: expired")
	ErrTimeout         = errors.New("session: operation timed out")
)

// Session is the server-side record of an interactive login. It outlives
// the short-lived tokens it holds; renewal swaps the token in place while
// the session id stays stable.
type Session struct {
	ID             string
	AccountID      string
	Token          string
	TokenExpiresAt time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
	RenewedAt      time.Time
}

// Expired reports whether the session itself (not its token) has lapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
