package session

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached.
var ErrUnavailable = errors.New("session store unavailable")

// RequestInfo is the network/device fingerprint captured per request.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// Session binds a client context to an authenticated user. IsActive is the
// soft-delete flag: logout and timeout flip it, the janitor erases the
// record later.
type Session struct {
	SessionID     string     `json:"sessionId"`
	UserID        string     `json:"userId"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastActivity  time.Time  `json:"lastActivity"`
	IPAddress     string     `json:"ipAddress"`
	UserAgent     string     `json:"userAgent"`
	IsActive      bool       `json:"isActive"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
}

// Config bounds session lifetime. MaxAge fails validation for sessions
// older than it; Retention is the hard-delete horizon for Cleanup.
type Config struct {
	MaxAge    time.Duration
	Retention time.Duration
}

// Store is the session registry contract. Implementations must be safe for
// concurrent use by request handlers and the background janitor.
//
// Validate returns (nil, nil) — not an error — when the session is missing,
// inactive, or past MaxAge; a non-nil error means the backend itself
// failed. On success it updates LastActivity and returns a copy, so callers
// can never mutate registry state through the result.
type Store interface {
	Create(ctx context.Context, userID string, info RequestInfo) (*Session, error)
	Validate(ctx context.Context, sessionID string, info RequestInfo) (*Session, error)
	Invalidate(ctx context.Context, sessionID string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
	Cleanup(ctx context.Context) (removed int, err error)
}

// expired reports whether a session has outlived MaxAge.
func expired(s *Session, maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.CreatedAt) >= maxAge
}

// purgeable reports whether the janitor may hard-delete the session:
// idle past the retention window, or soft-deleted and past it.
func purgeable(s *Session, retention time.Duration, now time.Time) bool {
	if now.Sub(s.LastActivity) >= retention {
		return true
	}
	if !s.IsActive && s.InvalidatedAt != nil && now.Sub(*s.InvalidatedAt) >= retention {
		return true
	}
	return false
}
