package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestIssueTokensRegistersJTI(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	users.roles[42] = []string{"CUSTOMER"}
	svc, tokens, allow, sessions := newTestRefresh(rdb, users)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, 42, "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}

	pair, err := svc.IssueTokens(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}

	payload, err := tokens.VerifyRefresh(ctx, pair.RefreshToken, VerifyOpts{})
	if err != nil {
		t.Fatalf("issued refresh does not verify: %v", err)
	}
	if ok, _ := allow.Exists(ctx, payload.JTI); !ok {
		t.Fatal("issued jti missing from the allow-list")
	}
	jtis, err := sessions.LinkedJTIs(ctx, 42, sess.SessionID)
	if err != nil || len(jtis) != 1 || jtis[0] != payload.JTI {
		t.Fatalf("linked jtis = %v (err=%v), want [%s]", jtis, err, payload.JTI)
	}

	access, err := tokens.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("issued access does not verify: %v", err)
	}
	if len(access.Roles) != 1 || access.Roles[0] != "CUSTOMER" {
		t.Fatalf("access roles = %v", access.Roles)
	}
}

func TestRefreshRotation(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	users.roles[42] = []string{"CUSTOMER"}
	svc, tokens, allow, sessions := newTestRefresh(rdb, users)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}
	pair, err := svc.IssueTokens(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	oldJTI := tokens.PeekRefresh(ctx, pair.RefreshToken, false, true).JTI

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Old jti is gone from the allow-list and flagged in the blacklist.
	if ok, _ := allow.Exists(ctx, oldJTI); ok {
		t.Fatal("rotated jti still on the allow-list")
	}
	if black, _ := tokens.IsRefreshBlacklisted(ctx, oldJTI); !black {
		t.Fatal("rotated jti not blacklisted")
	}

	// New jti is live and linked to the same session; the old link is gone.
	newPayload, err := tokens.VerifyRefresh(ctx, rotated.RefreshToken, VerifyOpts{})
	if err != nil {
		t.Fatalf("rotated refresh does not verify: %v", err)
	}
	if newPayload.SessionID != sess.SessionID {
		t.Fatalf("rotated token session = %s, want %s", newPayload.SessionID, sess.SessionID)
	}
	if ok, _ := allow.Exists(ctx, newPayload.JTI); !ok {
		t.Fatal("new jti missing from the allow-list")
	}
	jtis, _ := sessions.LinkedJTIs(ctx, 42, sess.SessionID)
	if len(jtis) != 1 || jtis[0] != newPayload.JTI {
		t.Fatalf("linked jtis after rotation = %v", jtis)
	}
}

func TestRefreshReplayRejected(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	svc, _, _, _ := newTestRefresh(rdb, users)
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, 42, "")
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	// The consumed token must never rotate again.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replayed refresh = %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshTouchesSession(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	svc, _, _, sessions := newTestRefresh(rdb, users)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}
	pair, err := svc.IssueTokens(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := svc.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	got, err := sessions.Get(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("session get failed: %v", err)
	}
	if !got.LastUsedAt.After(sess.LastUsedAt) {
		t.Fatalf("LastUsedAt not advanced: %v <= %v", got.LastUsedAt, sess.LastUsedAt)
	}
}

func TestRefreshSubjectRateLimit(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	tokens := newTestTokens(rdb)
	allow := NewAllowListStore(rdb)
	sessions := NewSessionStore(rdb, 7*24*time.Hour)
	svc := NewRefreshService(tokens, allow, sessions, users, NewLimiter(rdb),
		7*24*time.Hour, 2, time.Minute)
	svc.logf = func(string, ...any) {}
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, 42, "")
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		pair, err = svc.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
	}
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	e := AsError(err)
	if e == nil || e.Status != http.StatusTooManyRequests {
		t.Fatalf("over-budget refresh = %v, want 429", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	svc, tokens, allow, _ := newTestRefresh(rdb, users)
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, 42, "")
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	jti := tokens.PeekRefresh(ctx, pair.RefreshToken, false, true).JTI

	svc.Revoke(ctx, pair.RefreshToken)
	if ok, _ := allow.Exists(ctx, jti); ok {
		t.Fatal("revoked jti still on the allow-list")
	}
	if black, _ := tokens.IsRefreshBlacklisted(ctx, jti); !black {
		t.Fatal("revoked jti not blacklisted")
	}

	// Revoking again, or revoking garbage, never panics or errors.
	svc.Revoke(ctx, pair.RefreshToken)
	svc.Revoke(ctx, "garbage")
	svc.Revoke(ctx, "")

	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after revoke = %v, want ErrTokenInvalid", err)
	}
}

func TestRevokeKillsSession(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	svc, _, _, sessions := newTestRefresh(rdb, users)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}
	pair, err := svc.IssueTokens(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}

	svc.Revoke(ctx, pair.RefreshToken)

	if _, err := sessions.Get(ctx, 42, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session survives logout: %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	svc, tokens, allow, sessions := newTestRefresh(rdb, users)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("session create failed: %v", err)
	}
	pair, err := svc.IssueTokens(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	jti := tokens.PeekRefresh(ctx, pair.RefreshToken, false, true).JTI

	if err := svc.RevokeSession(ctx, 42, sess.SessionID); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}

	if ok, _ := allow.Exists(ctx, jti); ok {
		t.Fatal("session jti still on the allow-list")
	}
	if black, _ := tokens.IsRefreshBlacklisted(ctx, jti); !black {
		t.Fatal("session jti not blacklisted")
	}
	if _, err := sessions.Get(ctx, 42, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session record survives revocation: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh after session revocation = %v, want ErrTokenInvalid", err)
	}
}

func TestRevokeAll(t *testing.T) {
	_, rdb := newTestRedis(t)
	users := newMockUsers()
	svc, _, _, sessions := newTestRefresh(rdb, users)
	ctx := context.Background()

	var pairs []*TokenPair
	for i := 0; i < 3; i++ {
		sess, err := sessions.Create(ctx, 42, "", "")
		if err != nil {
			t.Fatalf("session create failed: %v", err)
		}
		pair, err := svc.IssueTokens(ctx, 42, sess.SessionID)
		if err != nil {
			t.Fatalf("IssueTokens failed: %v", err)
		}
		pairs = append(pairs, pair)
	}

	if err := svc.RevokeAll(ctx, 42); err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}

	live, err := sessions.List(ctx, 42)
	if err != nil {
		t.Fatalf("session list failed: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("%d sessions survive RevokeAll", len(live))
	}
	for i, pair := range pairs {
		if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %d refreshes after RevokeAll: %v", i, err)
		}
	}
}
