package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionCreateGetList(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, 42, "10.0.0.1", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.SessionID == "" || sess.UserID != 42 {
		t.Fatalf("session = %+v", sess)
	}
	// Device metadata is stored hashed, never raw.
	if sess.IPHash == "10.0.0.1" || sess.UAHash == "Mozilla/5.0" || sess.IPHash == "" || sess.UAHash == "" {
		t.Fatalf("metadata not hashed: ip=%q ua=%q", sess.IPHash, sess.UAHash)
	}

	got, err := store.Get(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SessionID != sess.SessionID || got.IPHash != sess.IPHash {
		t.Fatalf("got = %+v, want %+v", got, sess)
	}

	other, err := store.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	list, err := store.List(ctx, 42)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	_ = other
}

func TestSessionListPrunesExpired(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	if _, err := store.Create(ctx, 42, "", ""); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	mr.FastForward(2 * time.Minute) // record expires, index entry lingers

	list, err := store.List(ctx, 42)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expired session still listed: %+v", list)
	}
}

func TestSessionTouch(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := store.Touch(ctx, 42, sess.SessionID); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	got, err := store.Get(ctx, 42, sess.SessionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.LastUsedAt.After(sess.LastUsedAt) {
		t.Fatal("Touch did not advance LastUsedAt")
	}

	if err := store.Touch(ctx, 42, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Touch on missing session = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionJTILinks(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.LinkRefreshJTI(ctx, 42, sess.SessionID, "jti-1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	uid, sid, err := store.FindByJTI(ctx, "jti-1")
	if err != nil {
		t.Fatalf("FindByJTI failed: %v", err)
	}
	if uid != 42 || sid != sess.SessionID {
		t.Fatalf("FindByJTI = (%d, %s)", uid, sid)
	}

	jtis, err := store.LinkedJTIs(ctx, 42, sess.SessionID)
	if err != nil || len(jtis) != 1 || jtis[0] != "jti-1" {
		t.Fatalf("LinkedJTIs = %v (err=%v)", jtis, err)
	}

	if err := store.UnlinkRefreshJTI(ctx, 42, sess.SessionID, "jti-1"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if _, _, err := store.FindByJTI(ctx, "jti-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("FindByJTI after unlink = %v, want ErrSessionNotFound", err)
	}
	if jtis, _ := store.LinkedJTIs(ctx, 42, sess.SessionID); len(jtis) != 0 {
		t.Fatalf("jtis after unlink = %v", jtis)
	}
}

func TestSessionRevoke(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewSessionStore(rdb, time.Hour)
	ctx := context.Background()

	sess, err := store.Create(ctx, 42, "", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.LinkRefreshJTI(ctx, 42, sess.SessionID, "jti-1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	if err := store.Revoke(ctx, 42, sess.SessionID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Get(ctx, 42, sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after revoke = %v, want ErrSessionNotFound", err)
	}
	if jtis, _ := store.LinkedJTIs(ctx, 42, sess.SessionID); len(jtis) != 0 {
		t.Fatalf("jti set survives revoke: %v", jtis)
	}
	if list, _ := store.List(ctx, 42); len(list) != 0 {
		t.Fatalf("revoked session still indexed: %+v", list)
	}

	// Revoking an unknown session is a no-op, not an error.
	if err := store.Revoke(ctx, 42, "missing"); err != nil {
		t.Fatalf("Revoke on missing session = %v", err)
	}
}
