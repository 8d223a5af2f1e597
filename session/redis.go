package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "portal:session:"
	userIndexKeyPrefix = "portal:session:user:"
)

// RedisStore keeps sessions in Redis so every portal instance sees the same
// registry. Each session is a JSON value with a TTL equal to the retention
// window; a per-user set indexes the session IDs for bulk operations.
type RedisStore struct {
	client redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewRedisStore returns a registry backed by the given client.
func NewRedisStore(client redis.UniversalClient, cfg Config) *RedisStore {
	return &RedisStore{
		client: client,
		config: cfg,
		now:    time.Now,
	}
}

func sessionKey(sessionID string) string { return sessionKeyPrefix + sessionID }
func userIndexKey(userID string) string  { return userIndexKeyPrefix + userID }

func (r *RedisStore) Create(ctx context.Context, userID string, info RequestInfo) (*Session, error) {
	now := r.now()
	s := &Session{
		SessionID:    uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    info.IP,
		UserAgent:    info.UserAgent,
		IsActive:     true,
	}

	if err := r.write(ctx, s, r.config.Retention); err != nil {
		return nil, err
	}
	if err := r.client.SAdd(ctx, userIndexKey(userID), s.SessionID).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := r.client.Expire(ctx, userIndexKey(userID), r.config.Retention).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := *s
	return &out, nil
}

func (r *RedisStore) Validate(ctx context.Context, sessionID string, _ RequestInfo) (*Session, error) {
	now := r.now()

	s, err := r.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.IsActive {
		return nil, nil
	}
	if expired(s, r.config.MaxAge, now) {
		s.IsActive = false
		at := now
		s.InvalidatedAt = &at
		if err := r.write(ctx, s, redis.KeepTTL); err != nil {
			return nil, err
		}
		return nil, nil
	}

	s.LastActivity = now
	if err := r.write(ctx, s, redis.KeepTTL); err != nil {
		return nil, err
	}

	out := *s
	return &out, nil
}

func (r *RedisStore) Invalidate(ctx context.Context, sessionID string) error {
	s, err := r.read(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil || !s.IsActive {
		return nil
	}
	at := r.now()
	s.IsActive = false
	s.InvalidatedAt = &at
	return r.write(ctx, s, redis.KeepTTL)
}

func (r *RedisStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, id := range ids {
		if err := r.Invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	now := r.now()

	ids, err := r.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out []*Session
	for _, id := range ids {
		s, err := r.read(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil || !s.IsActive || expired(s, r.config.MaxAge, now) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Cleanup sweeps the per-user index sets and removes entries whose session
// keys are gone or purgeable. Session values themselves age out via their
// TTL; the sweep keeps the indexes from accumulating dead IDs and counts
// the records it erases early.
func (r *RedisStore) Cleanup(ctx context.Context) (int, error) {
	now := r.now()
	removed := 0

	iter := r.client.Scan(ctx, 0, userIndexKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		ids, err := r.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, id := range ids {
			s, err := r.read(ctx, id)
			if err != nil {
				return removed, err
			}
			if s == nil {
				if err := r.client.SRem(ctx, indexKey, id).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				continue
			}
			if purgeable(s, r.config.Retention, now) {
				if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				if err := r.client.SRem(ctx, indexKey, id).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return removed, nil
}

func (r *RedisStore) read(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("corrupt session record %s: %w", sessionID, err)
	}
	return &s, nil
}

func (r *RedisStore) write(ctx context.Context, s *Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, sessionKey(s.SessionID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
