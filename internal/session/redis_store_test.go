package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, s
}

func TestRedisStorePing(t *testing.T) {
	rs, _ := newTestStore(t)
	if err := rs.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestRefreshSessionRoundTrip(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-abc", "usr_1", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	user, err := rs.LookupRefreshSession(ctx, "hash-abc")
	if err != nil {
		t.Fatalf("LookupRefreshSession: %v", err)
	}
	if user.ID != "usr_1" {
		t.Errorf("user ID = %q, want usr_1", user.ID)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown token error = %v, want ErrSessionNotFound", err)
	}
}

func TestRefreshSessionExpiry(t *testing.T) {
	rs, s := newTestStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-short", "usr_2", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := rs.LookupRefreshSession(ctx, "hash-short"); err == nil {
		t.Error("expected error after TTL elapsed")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(24 * time.Hour)

	for _, h := range []string{"hash-1", "hash-2"} {
		if err := rs.SaveRefreshSession(ctx, h, "usr_"+h, expires); err != nil {
			t.Fatalf("SaveRefreshSession(%s): %v", h, err)
		}
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-1"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-1"); err == nil {
		t.Error("revoked token still resolves")
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-2"); err != nil {
		t.Errorf("unrelated token lost after revoke: %v", err)
	}

	// Revoking an unknown token is a no-op.
	if err := rs.RevokeRefreshSession(ctx, "hash-missing"); err != nil {
		t.Errorf("RevokeRefreshSession(missing): %v", err)
	}
}
