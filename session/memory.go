package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps every session in process memory. Suited to
// single-instance deployments and tests; state is lost on restart.
type MemoryStore struct {
	config Config

	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore returns an empty in-memory registry.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		config:   cfg,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, userID string, info RequestInfo) (*Session, error) {
	now := m.now()
	s := &Session{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    info.IP,
		UserAgent:    info.UserAgent,
		IsActive:     true,
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()

	out := *s
	return &out, nil
}

func (m *MemoryStore) Validate(_ context.Context, sessionID string, _ RequestInfo) (*Session, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive {
		return nil, nil
	}
	if expired(s, m.config.MaxAge, now) {
		s.IsActive = false
		at := now
		s.InvalidatedAt = &at
		return nil, nil
	}

	s.LastActivity = now
	out := *s
	return &out, nil
}

func (m *MemoryStore) Invalidate(_ context.Context, sessionID string) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok && s.IsActive {
		s.IsActive = false
		at := now
		s.InvalidatedAt = &at
	}
	return nil
}

func (m *MemoryStore) InvalidateAllForUser(_ context.Context, userID string) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			at := now
			s.InvalidatedAt = &at
		}
	}
	return nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Session, error) {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.UserID != userID || !s.IsActive {
			continue
		}
		if expired(s, m.config.MaxAge, now) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Cleanup(_ context.Context) (int, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if purgeable(s, m.config.Retention, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}
