package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, Config{
		MaxAge:    24 * time.Hour,
		Retention: 7 * 24 * time.Hour,
	})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestRedisCreateAndValidate(t *testing.T) {
	store, clock := newTestRedisStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", testInfo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	*clock = clock.Add(10 * time.Minute)
	got, err := store.Validate(ctx, created.SessionID, testInfo)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got == nil {
		t.Fatal("valid session rejected")
	}
	if !got.LastActivity.Equal(*clock) {
		t.Fatalf("LastActivity not bumped: %v", got.LastActivity)
	}
	if got.UserID != "user-1" || got.IPAddress != testInfo.IP {
		t.Fatalf("round trip lost fields: %+v", got)
	}
}

func TestRedisValidateUnknown(t *testing.T) {
	store, _ := newTestRedisStore(t)

	got, err := store.Validate(context.Background(), "no-such-session", testInfo)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != nil {
		t.Fatal("unknown session validated")
	}
}

func TestRedisMaxAgeExpiry(t *testing.T) {
	store, clock := newTestRedisStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "user-1", testInfo)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	*clock = clock.Add(25 * time.Hour)
	got, err := store.Validate(ctx, created.SessionID, testInfo)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != nil {
		t.Fatal("session validated past max age")
	}

	// The record is still in Redis, soft-deleted, until the sweep.
	raw, err := store.read(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if raw == nil || raw.IsActive || raw.InvalidatedAt == nil {
		t.Fatalf("expired session not soft-deleted: %+v", raw)
	}
}

func TestRedisInvalidateAllForUser(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	a, _ := store.Create(ctx, "user-1", testInfo)
	b, _ := store.Create(ctx, "user-1", testInfo)
	other, _ := store.Create(ctx, "user-2", testInfo)

	if err := store.InvalidateAllForUser(ctx, "user-1"); err != nil {
		t.Fatalf("InvalidateAllForUser: %v", err)
	}
	for _, id := range []string{a.SessionID, b.SessionID} {
		if got, _ := store.Validate(ctx, id, testInfo); got != nil {
			t.Fatalf("session %s survived bulk invalidation", id)
		}
	}
	if got, _ := store.Validate(ctx, other.SessionID, testInfo); got == nil {
		t.Fatal("other user's session was invalidated")
	}
}

func TestRedisListForUser(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	s1, _ := store.Create(ctx, "user-1", testInfo)
	store.Create(ctx, "user-1", testInfo)

	list, err := store.ListForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}

	store.Invalidate(ctx, s1.SessionID)
	list, _ = store.ListForUser(ctx, "user-1")
	if len(list) != 1 {
		t.Fatalf("got %d sessions after invalidation, want 1", len(list))
	}
}

func TestRedisCleanup(t *testing.T) {
	store, clock := newTestRedisStore(t)
	ctx := context.Background()

	stale, _ := store.Create(ctx, "user-1", testInfo)

	*clock = clock.Add(7*24*time.Hour + time.Hour)
	fresh, _ := store.Create(ctx, "user-2", testInfo)

	removed, err := store.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}

	if got, _ := store.read(ctx, stale.SessionID); got != nil {
		t.Fatal("stale session record not erased")
	}
	if got, _ := store.read(ctx, fresh.SessionID); got == nil {
		t.Fatal("fresh session record erased")
	}

	// The stale ID must also be gone from the user index.
	ids, err := store.client.SMembers(ctx, userIndexKey("user-1")).Result()
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("user index still holds %v", ids)
	}
}
