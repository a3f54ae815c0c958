package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// AllowListEntry records who a live refresh jti belongs to.  SessionID is
// empty for tokens issued before any device session existed.
type AllowListEntry struct {
	UserID    uint64 `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrAllowListMiss means the jti has no live entry: rotated, revoked,
// expired or never issued.  The orchestrator treats all four the same.
var ErrAllowListMiss = errors.New("allow-list entry not found")

// AllowListStore is the single source of truth for "is this refresh token
// still valid".  At most one entry exists per unvisited jti and Consume
// removes it in a single GETDEL round trip, which is the serialization
// point that makes refresh tokens single-use: of two concurrent refresh
// calls with the same token exactly one observes the entry.
type AllowListStore struct {
	rdb redis.UniversalClient
}

func NewAllowListStore(rdb redis.UniversalClient) *AllowListStore {
	return &AllowListStore{rdb: rdb}
}

// Put creates the entry for a freshly minted jti.  TTL always equals the
// refresh token TTL so an orphaned entry self-expires with its token.
func (s *AllowListStore) Put(ctx context.Context, jti string, entry AllowListEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, allowKeyPrefix+jti, raw, ttl).Err()
}

// Consume atomically reads and deletes the entry.  Returns ErrAllowListMiss
// when no entry exists, which the caller surfaces as a replay.
func (s *AllowListStore) Consume(ctx context.Context, jti string) (*AllowListEntry, error) {
	raw, err := s.rdb.GetDel(ctx, allowKeyPrefix+jti).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAllowListMiss
		}
		return nil, err
	}
	var entry AllowListEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Revoke removes the entry without reading it.  Missing entries are fine;
// revocation is idempotent.
func (s *AllowListStore) Revoke(ctx context.Context, jti string) error {
	return s.rdb.Del(ctx, allowKeyPrefix+jti).Err()
}

// Exists reports whether a live entry is present.  Diagnostic use only;
// rotation must go through Consume.
func (s *AllowListStore) Exists(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, allowKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
