package rate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited means the caller exhausted the attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable means the counter backend could not be reached.
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)

// Config holds throttle tuning parameters. MaxAttempts failures within
// Window lock the username (and IP, when EnableIPThrottle is set) until the
// window lapses.
type Config struct {
	MaxAttempts      int
	Window           time.Duration
	EnableIPThrottle bool
}

// Limiter is the login throttle contract. Check runs before credentials
// are examined and returns ErrRateLimited with a retry hint when the budget
// is spent; RecordFailure counts a failed attempt; Reset clears the
// counters after a successful login.
type Limiter interface {
	Check(ctx context.Context, username, ip string) (retryAfter time.Duration, err error)
	RecordFailure(ctx context.Context, username, ip string) error
	Reset(ctx context.Context, username, ip string) error
	Attempts(ctx context.Context, username string) (int, error)
}

const (
	loginUserKeyPrefix = "la:u:"
	loginIPKeyPrefix   = "la:i:"
)

func loginUserKey(username string) string { return loginUserKeyPrefix + username }
func loginIPKey(ip string) string         { return loginIPKeyPrefix + ip }
