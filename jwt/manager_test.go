package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, accessTTL, refreshTTL time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		Secret:     testSecret,
		Issuer:     "portal-auth",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, RefreshTTL: time.Hour, Secret: testSecret},
		{AccessTTL: time.Hour, RefreshTTL: time.Minute, Secret: testSecret},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, Secret: []byte("short")},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, Secret: testSecret, Leeway: -time.Second},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("case %d: expected config error", i)
		}
	}
}

func TestAccessRoundTrip(t *testing.T) {
	m := newTestManager(t, 15*time.Minute, 7*24*time.Hour)

	token, err := m.CreateAccess("u1", "alice", "editor")
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" || claims.Role != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > 15*time.Minute {
		t.Fatal("access expiry not bounded by TTL")
	}
}

func TestRefreshCarriesNoRoleClaims(t *testing.T) {
	m := newTestManager(t, 15*time.Minute, 7*24*time.Hour)

	token, err := m.CreateRefresh("u1")
	if err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	// Inspect the raw payload: the refresh token must not embed role or
	// username claims that could go stale.
	payload := strings.Split(token, ".")[1]
	if strings.Contains(payload, "role") {
		t.Fatal("refresh payload must not carry a role claim")
	}

	claims, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("ParseRefresh: %v", err)
	}
	if claims.UserID != "u1" || claims.Type != TypeRefresh {
		t.Fatalf("unexpected refresh claims: %+v", claims)
	}
}

func TestParseRefreshRejectsAccessToken(t *testing.T) {
	m := newTestManager(t, 15*time.Minute, 7*24*time.Hour)

	access, err := m.CreateAccess("u1", "alice", "editor")
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestExpiredAccessRejected(t *testing.T) {
	m := newTestManager(t, time.Millisecond, time.Hour)

	token, err := m.CreateAccess("u1", "alice", "viewer")
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := m.ParseAccess(token); !errors.Is(err, jwtlib.ErrTokenExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	m := newTestManager(t, 15*time.Minute, time.Hour)

	token, err := m.CreateAccess("u1", "alice", "viewer")
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	tampered := token[:len(token)-2] + "xx"
	if _, err := m.ParseAccess(tampered); err == nil {
		t.Fatal("expected signature error for tampered token")
	}
}

func TestForeignSecretRejected(t *testing.T) {
	m := newTestManager(t, 15*time.Minute, time.Hour)

	other, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
		Secret:     []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:     "portal-auth",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	token, err := other.CreateRefresh("u1")
	if err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	if _, err := m.ParseRefresh(token); err == nil {
		t.Fatal("expected verification failure across secrets")
	}
}
