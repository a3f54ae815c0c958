package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session represents one logged-in device.  Device metadata is stored as
// truncated hashes, never raw, so session records carry no PII.
type Session struct {
	SessionID  string    `json:"session_id"`
	UserID     uint64    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	IPHash     string    `json:"ip_hash,omitempty"`
	UAHash     string    `json:"ua_hash,omitempty"`
}

// ErrSessionNotFound is returned when a session record is absent.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the per-user, per-device session registry.  It owns the
// session keyspace; the refresh orchestrator is the only other component
// permitted to mutate the jti link sets, through LinkRefreshJTI and
// UnlinkRefreshJTI.
type SessionStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewSessionStore builds a registry whose records live as long as refresh
// tokens; Touch renews the TTL so active devices never age out.
func NewSessionStore(rdb redis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func uidStr(userID uint64) string { return strconv.FormatUint(userID, 10) }

func sessionKey(userID uint64, sessionID string) string {
	return sessionKeyPrefix + uidStr(userID) + ":" + sessionID
}

func sessionIndexKey(userID uint64) string {
	return sessionKeyPrefix + "index:" + uidStr(userID)
}

func sessionJTIsKey(userID uint64, sessionID string) string {
	return sessionKeyPrefix + "jtis:" + uidStr(userID) + ":" + sessionID
}

func jtiIndexKey(jti string) string {
	return sessionKeyPrefix + "jti:index:" + jti
}

// Create registers a new device session and indexes it under the user.
func (s *SessionStore) Create(ctx context.Context, userID uint64, ip, userAgent string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		SessionID:  uuid.NewString(),
		UserID:     userID,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if ip != "" {
		sess.IPHash = hash40(ip)
	}
	if userAgent != "" {
		sess.UAHash = hash40(userAgent)
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.rdb.SAdd(ctx, sessionIndexKey(userID), sess.SessionID).Err(); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sess.UserID, sess.SessionID), raw, s.ttl).Err()
}

// Get loads one session record.
func (s *SessionStore) Get(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(userID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns all live sessions for a user.  Index entries whose record
// already expired are pruned on the way.
func (s *SessionStore) List(ctx context.Context, userID uint64) ([]Session, error) {
	ids, err := s.rdb.SMembers(ctx, sessionIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, userID, id)
		if errors.Is(err, ErrSessionNotFound) {
			_ = s.rdb.SRem(ctx, sessionIndexKey(userID), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// Touch refreshes LastUsedAt and the record's TTL.  Called on every
// successful refresh to keep active devices alive.
func (s *SessionStore) Touch(ctx context.Context, userID uint64, sessionID string) error {
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	sess.LastUsedAt = time.Now().UTC()
	return s.save(ctx, sess)
}

// LinkRefreshJTI associates a jti with a session and writes the reverse
// index used by logout-by-token.  Normally exactly one live jti is linked
// at a time, since rotation swaps the link.
func (s *SessionStore) LinkRefreshJTI(ctx context.Context, userID uint64, sessionID, jti string) error {
	key := sessionJTIsKey(userID, sessionID)
	if err := s.rdb.SAdd(ctx, key, jti).Err(); err != nil {
		return err
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return err
	}
	return s.rdb.Set(ctx, jtiIndexKey(jti), uidStr(userID)+":"+sessionID, s.ttl).Err()
}

// UnlinkRefreshJTI drops the association after rotation or revocation.
func (s *SessionStore) UnlinkRefreshJTI(ctx context.Context, userID uint64, sessionID, jti string) error {
	if err := s.rdb.SRem(ctx, sessionJTIsKey(userID, sessionID), jti).Err(); err != nil {
		return err
	}
	return s.rdb.Del(ctx, jtiIndexKey(jti)).Err()
}

// LinkedJTIs returns the jtis currently linked to a session.
func (s *SessionStore) LinkedJTIs(ctx context.Context, userID uint64, sessionID string) ([]string, error) {
	return s.rdb.SMembers(ctx, sessionJTIsKey(userID, sessionID)).Result()
}

// FindByJTI resolves which session a refresh jti belongs to.  Returns
// ErrSessionNotFound when the reverse index is gone.
func (s *SessionStore) FindByJTI(ctx context.Context, jti string) (uint64, string, error) {
	raw, err := s.rdb.Get(ctx, jtiIndexKey(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, "", ErrSessionNotFound
		}
		return 0, "", err
	}
	uid, sid, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, "", ErrSessionNotFound
	}
	userID, err := strconv.ParseUint(uid, 10, 64)
	if err != nil {
		return 0, "", ErrSessionNotFound
	}
	return userID, sid, nil
}

// Revoke deletes the session record, its index entry and its jti link set.
// Allow-list and blacklist cleanup for linked jtis is the orchestrator's
// job; a crash in between leaves only TTL-bounded orphans.
func (s *SessionStore) Revoke(ctx context.Context, userID uint64, sessionID string) error {
	if err := s.rdb.Del(ctx, sessionKey(userID, sessionID), sessionJTIsKey(userID, sessionID)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, sessionIndexKey(userID), sessionID).Err()
}
