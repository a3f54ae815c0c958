package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces fixed-window counters in Redis.  Increment-and-read; the
// first hit in a window sets its TTL, and once the post-increment count
// exceeds max the call fails with a 429 carrying the remaining window.
// Fixed windows are slightly bursty at the boundary, which is acceptable
// for this threat model and keeps the store interaction to two commands.
type Limiter struct {
	rdb redis.UniversalClient
}

func NewLimiter(rdb redis.UniversalClient) *Limiter {
	return &Limiter{rdb: rdb}
}

// Consume counts one attempt against the bucket.  Returns a RateLimited
// error when the bucket is over budget for the rest of the window.
func (l *Limiter) Consume(ctx context.Context, key string, window time.Duration, max int) error {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("rate limiter incr %s: %w", key, err)
	}
	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return fmt.Errorf("rate limiter expire %s: %w", key, err)
		}
	}
	if count > int64(max) {
		retry := int(window / time.Second)
		if ttl, err := l.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			retry = int(ttl / time.Second)
		}
		return RateLimited(retry)
	}
	return nil
}

// Bucket key builders.  Subjects are hashed so raw identifiers and IPs
// never appear in the key namespace.

func otpRequestIDKey(channel, identifier, purpose string) string {
	return "otp:rl:req:id:" + hash40(identifier) + ":" + channel + ":" + purpose
}

func otpRequestIPKey(ip string) string {
	return "otp:rl:req:ip:" + hash40(ip)
}

func otpVerifyIDKey(channel, identifier, purpose string) string {
	return "otp:rl:ver:id:" + hash40(identifier) + ":" + channel + ":" + purpose
}

func otpVerifyIPKey(ip string) string {
	return "otp:rl:ver:ip:" + hash40(ip)
}

func refreshSubjectKey(userID string) string {
	return "auth:rl:refresh:" + hash40(userID)
}
