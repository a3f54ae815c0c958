package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeSender delivers a one-time code over a channel.  The state machine
// treats delivery as an opaque collaborator: dispatch failures propagate to
// the caller, everything past the broker is someone else's problem.
type CodeSender interface {
	SendCode(ctx context.Context, channel, identifier, code, purpose string, ttl time.Duration) error
}

// OTPConfig tunes the OTP state machine.  All values come from the
// immutable application config.
type OTPConfig struct {
	CodeTTL        time.Duration // lifetime of a generated code
	ResendCooldown time.Duration // minimum delay between sends per tuple
	MaxAttempts    int           // failed verifies before lockout
	MaxSends       int           // sends per tuple while a record is live
	BlockTTL       time.Duration // lockout duration

	RequestMax    int
	RequestWindow time.Duration
	RequestIPMax  int
	VerifyMax     int
	VerifyWindow  time.Duration
	VerifyIPMax   int
}

// CodeStatus reports the outcome of a request/resend call.  Durations are
// whole seconds, ready for the HTTP envelope.
type CodeStatus struct {
	AlreadyActive     bool `json:"alreadyActive"`
	ExpiresIn         int  `json:"expiresIn"`
	ResendAvailableIn int  `json:"resendAvailableIn"`
}

// VerifyOutcome carries the one-time ticket minted on a successful verify
// plus a hint for the client's next step.
type VerifyOutcome struct {
	Ticket    string `json:"ticket"`
	Next      string `json:"next"`
	ExpiresIn int    `json:"expiresIn"`
}

// OTPService manages the lifecycle of one-time verification codes per
// (channel, identifier, purpose) tuple: issue under rate limits and resend
// cooldowns, verify with attempt caps, lock the tuple out when attempts are
// exhausted.  It owns the otp:* keyspaces exclusively.
type OTPService struct {
	rdb     redis.UniversalClient
	limiter *Limiter
	tokens  *TokenService
	sender  CodeSender
	cfg     OTPConfig
}

func NewOTPService(rdb redis.UniversalClient, limiter *Limiter, tokens *TokenService, sender CodeSender, cfg OTPConfig) *OTPService {
	return &OTPService{rdb: rdb, limiter: limiter, tokens: tokens, sender: sender, cfg: cfg}
}

// verifyScript atomically bumps the attempt counter and reads the record in
// one round trip, so two concurrent verifies can never observe the same
// attempt number.  Returns {-1} when no record exists.
var verifyScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[1]) == 0 then
        return {-1, '', 0}
    end
    local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
    local hash = redis.call('HGET', KEYS[1], 'code_hash')
    local max = redis.call('HGET', KEYS[1], 'max_attempts')
    return {attempts, hash or '', tonumber(max) or 0}
`)

func (s *OTPService) tupleKey(channel, identifier, purpose string) string {
	return otpKeyPrefix + hash40(purpose, channel, identifier)
}

// RequestCode issues a fresh code for the tuple, or reports the live one
// when the resend cooldown has not elapsed.  The cooldown branch is an
// idempotent no-op: the stored code is not regenerated.
func (s *OTPService) RequestCode(ctx context.Context, channel, identifier, purpose, ip string) (*CodeStatus, error) {
	identifier = NormalizeIdentifier(channel, identifier)

	if err := s.limiter.Consume(ctx, otpRequestIDKey(channel, identifier, purpose), s.cfg.RequestWindow, s.cfg.RequestMax); err != nil {
		return nil, err
	}
	if ip != "" {
		if err := s.limiter.Consume(ctx, otpRequestIPKey(ip), s.cfg.RequestWindow, s.cfg.RequestIPMax); err != nil {
			return nil, err
		}
	}

	key := s.tupleKey(channel, identifier, purpose)
	blocked, err := s.isBlocked(ctx, key)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	recordTTL, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	active := recordTTL > 0
	if active {
		cooldown, err := s.rdb.TTL(ctx, key+otpCooldownSuffix).Result()
		if err != nil {
			return nil, err
		}
		if cooldown > 0 {
			return &CodeStatus{
				AlreadyActive:     true,
				ExpiresIn:         int(recordTTL / time.Second),
				ResendAvailableIn: int(cooldown / time.Second),
			}, nil
		}
		// Cooldown elapsed while a record is still live: this is a
		// resend, bounded by the per-record send budget.
		sends, err := s.rdb.HIncrBy(ctx, key, "send_count", 1).Result()
		if err != nil {
			return nil, err
		}
		if sends > int64(s.cfg.MaxSends) {
			return nil, RateLimited(int(recordTTL / time.Second))
		}
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"code_hash":    hashSecret(key + "|" + code),
		"attempts":     0,
		"max_attempts": s.cfg.MaxAttempts,
	}
	if !active {
		fields["send_count"] = 1
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return nil, err
	}
	if err := s.rdb.Expire(ctx, key, s.cfg.CodeTTL).Err(); err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, key+otpCooldownSuffix, "1", s.cfg.ResendCooldown).Err(); err != nil {
		return nil, err
	}

	if err := s.sender.SendCode(ctx, channel, identifier, code, purpose, s.cfg.CodeTTL); err != nil {
		return nil, fmt.Errorf("dispatch code: %w", err)
	}

	return &CodeStatus{
		AlreadyActive:     false,
		ExpiresIn:         int(s.cfg.CodeTTL / time.Second),
		ResendAvailableIn: int(s.cfg.ResendCooldown / time.Second),
	}, nil
}

// ResendCode re-issues a code for the tuple.  Request and resend converge:
// without an active record a resend is a fresh request, under cooldown both
// return the live record's status, otherwise both issue a new code.  The
// separate entry point exists for caller intent, not server logic.
func (s *OTPService) ResendCode(ctx context.Context, channel, identifier, purpose, ip string) (*CodeStatus, error) {
	return s.RequestCode(ctx, channel, identifier, purpose, ip)
}

// VerifyCode checks a submitted code against the tuple's record.  Wrong
// code and missing/expired record produce the identical failure so callers
// cannot probe which one occurred.  Exhausting the attempt budget deletes
// the record and locks the tuple out for the block TTL.  On success the
// record is consumed and a one-time ticket is minted.
func (s *OTPService) VerifyCode(ctx context.Context, channel, identifier, code, purpose, ip string) (*VerifyOutcome, error) {
	identifier = NormalizeIdentifier(channel, identifier)

	if err := s.limiter.Consume(ctx, otpVerifyIDKey(channel, identifier, purpose), s.cfg.VerifyWindow, s.cfg.VerifyMax); err != nil {
		return nil, err
	}
	if ip != "" {
		if err := s.limiter.Consume(ctx, otpVerifyIPKey(ip), s.cfg.VerifyWindow, s.cfg.VerifyIPMax); err != nil {
			return nil, err
		}
	}

	key := s.tupleKey(channel, identifier, purpose)
	blocked, err := s.isBlocked(ctx, key)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	res, err := verifyScript.Run(ctx, s.rdb, []string{key}).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 3 {
		return nil, errors.New("otp verify script: unexpected reply")
	}
	attempts, _ := res[0].(int64)
	if attempts < 0 {
		return nil, ErrInvalidOrExpired
	}
	storedHash, _ := res[1].(string)
	maxAttempts, _ := res[2].(int64)

	if attempts > maxAttempts {
		if err := s.rdb.Del(ctx, key, key+otpCooldownSuffix).Err(); err != nil {
			return nil, err
		}
		if err := s.rdb.Set(ctx, key+otpBlockSuffix, "1", s.cfg.BlockTTL).Err(); err != nil {
			return nil, err
		}
		return nil, ErrBlocked
	}

	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashSecret(key+"|"+code))) != 1 {
		return nil, ErrInvalidOrExpired
	}

	if err := s.rdb.Del(ctx, key, key+otpCooldownSuffix).Err(); err != nil {
		return nil, err
	}

	ticket, jti, _, err := s.tokens.SignTicket(channel, identifier, purpose)
	if err != nil {
		return nil, err
	}
	// Stored hash backs proof-of-possession on redemption; the ticket
	// itself never touches the store.
	if err := s.rdb.Set(ctx, ticketKeyPrefix+jti, hashSecret(ticket), s.tokens.ticketTTL).Err(); err != nil {
		return nil, err
	}

	next := "set-password"
	if purpose == PurposePasswordReset {
		next = "reset-password"
	}
	return &VerifyOutcome{
		Ticket:    ticket,
		Next:      next,
		ExpiresIn: int(s.tokens.ticketTTL / time.Second),
	}, nil
}

// RedeemTicket consumes a one-time ticket exactly once and returns its
// payload.  The stored hash is removed atomically and a write-once marker
// keeps a re-stored hash from ever being replayable.
func (s *OTPService) RedeemTicket(ctx context.Context, ticket string) (*TicketPayload, error) {
	payload, err := s.tokens.VerifyTicket(ticket)
	if err != nil {
		return nil, err
	}
	stored, err := s.rdb.GetDel(ctx, ticketKeyPrefix+payload.JTI).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketInvalid
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashSecret(ticket))) != 1 {
		return nil, ErrTicketInvalid
	}
	set, err := s.rdb.SetNX(ctx, ticketOncePrefix+payload.JTI, "1", s.tokens.ticketTTL).Result()
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, ErrTicketInvalid
	}
	return payload, nil
}

func (s *OTPService) isBlocked(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key+otpBlockSuffix).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// generateCode returns a uniformly distributed zero-padded 6-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
