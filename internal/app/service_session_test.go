package app

import (
	"context"
	"testing"
)

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Maria")
	ctx := context.Background()

	session, err := env.service.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("incomplete session")
	}

	parsed, err := env.service.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.UserName != "Maria" {
		t.Errorf("parsed session = %+v", parsed)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Maria")
	ctx := context.Background()

	first, err := env.service.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	second, err := env.service.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// The consumed refresh token must be dead.
	if _, err := env.service.Refresh(ctx, first.RefreshToken); err == nil {
		t.Error("consumed refresh token still works")
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Maria")
	ctx := context.Background()

	session, err := env.service.CreateSession(ctx, "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := env.service.Logout(ctx, session, session.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := env.service.SessionFromToken(ctx, session.Token); err == nil {
		t.Error("access token usable after logout")
	}
	if _, err := env.service.Refresh(ctx, session.RefreshToken); err == nil {
		t.Error("refresh token usable after logout")
	}
}

func TestSessionFromTokenRejectsGarbage(t *testing.T) {
	env := newTestEnv()
	if _, err := env.service.SessionFromToken(context.Background(), "not-a-token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
