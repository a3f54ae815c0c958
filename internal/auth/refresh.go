package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// UserRecord is the slice of a principal the auth core needs: identity,
// credential hash and liveness.  Role hydration is separate so refresh can
// pick up role changes without another full lookup.
type UserRecord struct {
	UserID       uint64
	PasswordHash string
	Active       bool
}

// UserProvider is the narrow contract onto the external user-management
// collaborator.  FindByIdentifier returns (nil, nil) when no principal
// matches; the login gate converts that into the same failure as a wrong
// password.
type UserProvider interface {
	FindByIdentifier(ctx context.Context, identifier string) (*UserRecord, error)
	Roles(ctx context.Context, userID uint64) ([]string, error)
}

// TokenPair is an issued access+refresh pair with expiries for the
// transport layer's cookie and response body.
type TokenPair struct {
	AccessToken    string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshExpires time.Time
}

// RefreshService coordinates codec, allow-list and session registry into
// atomic rotate-or-reject refresh semantics.  It owns the allow-list and
// blacklist keyspaces: IssueTokens is the only place allow-list entries
// are created, Refresh and Revoke the only places they are removed.
type RefreshService struct {
	tokens        *TokenService
	allow         *AllowListStore
	sessions      *SessionStore
	users         UserProvider
	limiter       *Limiter
	refreshTTL    time.Duration
	refreshMax    int
	refreshWindow time.Duration
	logf          func(format string, args ...any)
}

func NewRefreshService(tokens *TokenService, allow *AllowListStore, sessions *SessionStore, users UserProvider, limiter *Limiter, refreshTTL time.Duration, refreshMax int, refreshWindow time.Duration) *RefreshService {
	return &RefreshService{
		tokens:        tokens,
		allow:         allow,
		sessions:      sessions,
		users:         users,
		limiter:       limiter,
		refreshTTL:    refreshTTL,
		refreshMax:    refreshMax,
		refreshWindow: refreshWindow,
		logf:          log.Printf,
	}
}

// IssueTokens hydrates the principal's current roles, signs a fresh pair
// under a new jti, registers the jti in the allow-list and, when a session
// id is supplied, links it to that session.
func (s *RefreshService) IssueTokens(ctx context.Context, userID uint64, sessionID string) (*TokenPair, error) {
	roles, err := s.users.Roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	jti := uuid.NewString()

	access, accessExp, err := s.tokens.SignAccess(userID, roles)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.tokens.SignRefresh(userID, sessionID, jti)
	if err != nil {
		return nil, err
	}
	if err := s.allow.Put(ctx, jti, AllowListEntry{UserID: userID, SessionID: sessionID}, s.refreshTTL); err != nil {
		return nil, err
	}
	if sessionID != "" {
		if err := s.sessions.LinkRefreshJTI(ctx, userID, sessionID, jti); err != nil {
			return nil, err
		}
	}
	return &TokenPair{
		AccessToken:    access,
		AccessExpires:  accessExp,
		RefreshToken:   refresh,
		RefreshExpires: refreshExp,
	}, nil
}

// Refresh rotates a refresh token.  The allow-list consumption is the
// single serialization point: of two concurrent calls with the same token
// exactly one observes an entry and proceeds, the other fails.  Everything
// after the consumption is housekeeping keyed by the new, unique jti, so
// no further locking exists on this path.
//
// All client-visible failures collapse to ErrTokenInvalid; the reason
// (replay, owner mismatch, session mismatch) is only logged.
func (s *RefreshService) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	payload, err := s.tokens.VerifyRefresh(ctx, raw, VerifyOpts{})
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Consume(ctx, refreshSubjectKey(uidStr(payload.UserID)), s.refreshWindow, s.refreshMax); err != nil {
		return nil, err
	}

	entry, err := s.allow.Consume(ctx, payload.JTI)
	if err != nil {
		if errors.Is(err, ErrAllowListMiss) {
			s.logf("refresh: replayed or revoked jti=%s user=%d", payload.JTI, payload.UserID)
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if entry.UserID != payload.UserID {
		s.logf("refresh: allow-list owner mismatch jti=%s token_user=%d entry_user=%d", payload.JTI, payload.UserID, entry.UserID)
		return nil, ErrTokenInvalid
	}
	if entry.SessionID != "" && payload.SessionID != "" && entry.SessionID != payload.SessionID {
		s.logf("refresh: session mismatch jti=%s token_sid=%s entry_sid=%s", payload.JTI, payload.SessionID, entry.SessionID)
		return nil, ErrTokenInvalid
	}

	// Housekeeping.  The security boundary (entry consumption) already
	// passed; each step below fails independently and only logs, since a
	// skipped step leaves at most a TTL-bounded orphan.
	if err := s.tokens.BlacklistRefreshJTI(ctx, payload.JTI, s.refreshTTL); err != nil {
		s.logf("refresh: blacklist jti=%s failed: %v", payload.JTI, err)
	}
	if entry.SessionID != "" {
		if err := s.sessions.UnlinkRefreshJTI(ctx, entry.UserID, entry.SessionID, payload.JTI); err != nil {
			s.logf("refresh: unlink jti=%s failed: %v", payload.JTI, err)
		}
		if err := s.sessions.Touch(ctx, entry.UserID, entry.SessionID); err != nil {
			s.logf("refresh: touch session=%s failed: %v", entry.SessionID, err)
		}
	}

	return s.IssueTokens(ctx, payload.UserID, entry.SessionID)
}

// Revoke invalidates a refresh token.  It succeeds for expired and
// already-blacklisted tokens and silently ignores garbage: logout is
// idempotent and never reports failure to the caller.
func (s *RefreshService) Revoke(ctx context.Context, raw string) {
	payload := s.tokens.PeekRefresh(ctx, raw, true, true)
	if payload == nil {
		return
	}
	if err := s.allow.Revoke(ctx, payload.JTI); err != nil {
		s.logf("revoke: allow-list delete jti=%s failed: %v", payload.JTI, err)
	}
	if err := s.tokens.BlacklistRefreshJTI(ctx, payload.JTI, s.refreshTTL); err != nil {
		s.logf("revoke: blacklist jti=%s failed: %v", payload.JTI, err)
	}

	userID, sessionID := payload.UserID, payload.SessionID
	if sessionID == "" {
		// Anonymous tokens may still be linked; the reverse index knows.
		if uid, sid, err := s.sessions.FindByJTI(ctx, payload.JTI); err == nil {
			userID, sessionID = uid, sid
		}
	}
	if sessionID != "" {
		if err := s.sessions.UnlinkRefreshJTI(ctx, userID, sessionID, payload.JTI); err != nil {
			s.logf("revoke: unlink jti=%s failed: %v", payload.JTI, err)
		}
		if err := s.sessions.Revoke(ctx, userID, sessionID); err != nil {
			s.logf("revoke: session=%s delete failed: %v", sessionID, err)
		}
	}
}

// RevokeSession logs one device out: every jti linked to the session loses
// its allow-list entry and gains a blacklist flag, then the session record
// goes away.
func (s *RefreshService) RevokeSession(ctx context.Context, userID uint64, sessionID string) error {
	jtis, err := s.sessions.LinkedJTIs(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	for _, jti := range jtis {
		if err := s.allow.Revoke(ctx, jti); err != nil {
			s.logf("revoke session: allow-list delete jti=%s failed: %v", jti, err)
		}
		if err := s.tokens.BlacklistRefreshJTI(ctx, jti, s.refreshTTL); err != nil {
			s.logf("revoke session: blacklist jti=%s failed: %v", jti, err)
		}
		if err := s.sessions.UnlinkRefreshJTI(ctx, userID, sessionID, jti); err != nil {
			s.logf("revoke session: unlink jti=%s failed: %v", jti, err)
		}
	}
	return s.sessions.Revoke(ctx, userID, sessionID)
}

// RevokeAll is bulk logout across every device of a user.
func (s *RefreshService) RevokeAll(ctx context.Context, userID uint64) error {
	sessions, err := s.sessions.List(ctx, userID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.RevokeSession(ctx, userID, sess.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// PeekPayload exposes the non-throwing codec peek for transport-layer
// logout and debug paths.
func (s *RefreshService) PeekPayload(ctx context.Context, raw string, ignoreExpiration bool) *RefreshPayload {
	return s.tokens.PeekRefresh(ctx, raw, ignoreExpiration, true)
}
