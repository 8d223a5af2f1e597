package rate

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	startAt time.Time
}

// MemoryLimiter is a fixed-window throttle held in process memory. Check
// and RecordFailure serialize on one mutex, so the count cannot race past
// the budget within a single instance.
type MemoryLimiter struct {
	config Config

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter returns an empty in-memory throttle.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Check(_ context.Context, username, ip string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if retry, limited := m.checkKey(loginUserKey(username), now); limited {
		return retry, ErrRateLimited
	}
	if m.config.EnableIPThrottle && ip != "" {
		if retry, limited := m.checkKey(loginIPKey(ip), now); limited {
			return retry, ErrRateLimited
		}
	}
	return 0, nil
}

func (m *MemoryLimiter) RecordFailure(_ context.Context, username, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.bumpKey(loginUserKey(username), now)
	if m.config.EnableIPThrottle && ip != "" {
		m.bumpKey(loginIPKey(ip), now)
	}
	return nil
}

func (m *MemoryLimiter) Reset(_ context.Context, username, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.windows, loginUserKey(username))
	if ip != "" {
		delete(m.windows, loginIPKey(ip))
	}
	return nil
}

func (m *MemoryLimiter) Attempts(_ context.Context, username string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[loginUserKey(username)]
	if !ok || m.now().Sub(w.startAt) >= m.config.Window {
		return 0, nil
	}
	return w.count, nil
}

// checkKey reports whether the key is over budget and, if so, how long
// until its window lapses. Lapsed windows are dropped eagerly.
func (m *MemoryLimiter) checkKey(key string, now time.Time) (time.Duration, bool) {
	w, ok := m.windows[key]
	if !ok {
		return 0, false
	}
	elapsed := now.Sub(w.startAt)
	if elapsed >= m.config.Window {
		delete(m.windows, key)
		return 0, false
	}
	if w.count >= m.config.MaxAttempts {
		return m.config.Window - elapsed, true
	}
	return 0, false
}

func (m *MemoryLimiter) bumpKey(key string, now time.Time) {
	w, ok := m.windows[key]
	if !ok || now.Sub(w.startAt) >= m.config.Window {
		m.windows[key] = &window{count: 1, startAt: now}
		return
	}
	w.count++
}
