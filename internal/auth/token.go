package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel names accepted by the OTP flows.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// OTP purposes.  PurposePasswordReset changes the post-verify hint; any
// other purpose leads to set-password.
const (
	PurposeRegister      = "register"
	PurposePasswordReset = "password-reset"
)

// Token type tags embedded in the typ claim.  Verification rejects a token
// whose tag does not match the expected family, so an access token can
// never be replayed against the refresh endpoint even if both families
// were ever signed with the same secret.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
	typeTicket  = "ticket"
)

// TokenService signs and verifies the three stateless token families and
// owns the refresh blacklist keyspace.  Cryptographic validity is separate
// from authorization: a refresh token that verifies here is still subject
// to the allow-list consumed by the orchestrator.
type TokenService struct {
	rdb           redis.UniversalClient
	accessSecret  []byte
	refreshSecret []byte
	ticketSecret  []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	ticketTTL     time.Duration
}

func NewTokenService(rdb redis.UniversalClient, accessSecret, refreshSecret, ticketSecret string, accessTTL, refreshTTL, ticketTTL time.Duration) *TokenService {
	return &TokenService{
		rdb:           rdb,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		ticketSecret:  []byte(ticketSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		ticketTTL:     ticketTTL,
	}
}

// AccessPayload is the verified claim set of an access token.
type AccessPayload struct {
	UserID    uint64
	Roles     []string
	ExpiresAt time.Time
}

// RefreshPayload is the verified claim set of a refresh token.  SessionID
// may be empty for tokens minted before a device session existed.
type RefreshPayload struct {
	UserID    uint64
	SessionID string
	JTI       string
	ExpiresAt time.Time
}

// TicketPayload is the verified claim set of a one-time ticket.
type TicketPayload struct {
	Identifier string
	Channel    string
	Purpose    string
	JTI        string
}

type accessClaims struct {
	Roles     []string `json:"roles"`
	TokenType string   `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	SessionID string `json:"sid,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type ticketClaims struct {
	Channel   string `json:"ch"`
	Purpose   string `json:"prp"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// SignAccess builds a short-lived HS256 access token.  Access tokens are
// never persisted server-side and cannot be revoked mid-lifetime.
func (s *TokenService) SignAccess(userID uint64, roles []string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(s.accessTTL)
	claims := accessClaims{
		Roles:     roles,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	return signed, exp, err
}

// SignRefresh builds a long-lived refresh token bound to the supplied jti.
// The jti is what the allow-list polices; without its entry the token is
// cryptographically valid but worthless.
func (s *TokenService) SignRefresh(userID uint64, sessionID, jti string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(s.refreshTTL)
	claims := refreshClaims{
		SessionID: sessionID,
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	return signed, exp, err
}

// SignTicket builds a one-time ticket bridging OTP success to the
// credential-set step.  Its validity window is independent of and shorter
// than session tokens.
func (s *TokenService) SignTicket(channel, identifier, purpose string) (string, string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(s.ticketTTL)
	jti := uuid.NewString()
	claims := ticketClaims{
		Channel:   channel,
		Purpose:   purpose,
		TokenType: typeTicket,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identifier,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.ticketSecret)
	return signed, jti, exp, err
}

// VerifyAccess checks signature, expiry and claim shape of an access token.
func (s *TokenService) VerifyAccess(raw string) (*AccessPayload, error) {
	tok, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.accessSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return nil, ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*accessClaims)
	if !ok || claims.TokenType != typeAccess {
		return nil, ErrTokenInvalid
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return nil, ErrTokenInvalid
	}
	return &AccessPayload{
		UserID:    uid,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifyOpts relax individual refresh checks for the revoke/peek paths.
type VerifyOpts struct {
	IgnoreExpiration bool // accept an expired token with a valid signature
	SkipBlacklist    bool // do not reject blacklisted jtis
}

// VerifyRefresh checks signature, expiry and claim shape of a refresh
// token, then fast-rejects blacklisted jtis before the allow-list is ever
// consulted.  Opts loosen expiry and blacklist handling for logout paths.
func (s *TokenService) VerifyRefresh(ctx context.Context, raw string, opts VerifyOpts) (*RefreshPayload, error) {
	tok, err := jwt.ParseWithClaims(raw, &refreshClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.refreshSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		// An expired token still carries verified claims; only the
		// expiry check is waived, never the signature.
		if !(opts.IgnoreExpiration && errors.Is(err, jwt.ErrTokenExpired) && tok != nil) {
			return nil, ErrTokenInvalid
		}
	}
	claims, ok := tok.Claims.(*refreshClaims)
	if !ok || claims.TokenType != typeRefresh || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	uid, perr := strconv.ParseUint(claims.Subject, 10, 64)
	if perr != nil || uid == 0 {
		return nil, ErrTokenInvalid
	}
	if !opts.SkipBlacklist {
		blacklisted, berr := s.IsRefreshBlacklisted(ctx, claims.ID)
		if berr != nil {
			return nil, berr
		}
		if blacklisted {
			return nil, ErrTokenInvalid
		}
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return &RefreshPayload{
		UserID:    uid,
		SessionID: claims.SessionID,
		JTI:       claims.ID,
		ExpiresAt: exp,
	}, nil
}

// PeekRefresh is the non-throwing variant for diagnostic and logout paths:
// an expired or revoked token still yields its claims rather than an error.
func (s *TokenService) PeekRefresh(ctx context.Context, raw string, ignoreExpiration, allowBlacklisted bool) *RefreshPayload {
	payload, err := s.VerifyRefresh(ctx, raw, VerifyOpts{
		IgnoreExpiration: ignoreExpiration,
		SkipBlacklist:    allowBlacklisted,
	})
	if err != nil {
		return nil
	}
	return payload
}

// VerifyTicket checks signature, expiry and claim shape of a one-time
// ticket.  Possession alone is not proof: the caller must still consume
// the server-side hash through the OTP service.
func (s *TokenService) VerifyTicket(raw string) (*TicketPayload, error) {
	tok, err := jwt.ParseWithClaims(raw, &ticketClaims{}, func(*jwt.Token) (interface{}, error) {
		return s.ticketSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return nil, ErrTicketInvalid
	}
	claims, ok := tok.Claims.(*ticketClaims)
	if !ok || claims.TokenType != typeTicket || claims.ID == "" || claims.Subject == "" {
		return nil, ErrTicketInvalid
	}
	return &TicketPayload{
		Identifier: claims.Subject,
		Channel:    claims.Channel,
		Purpose:    claims.Purpose,
		JTI:        claims.ID,
	}, nil
}

// BlacklistRefreshJTI marks a jti as explicitly dead.  Defense in depth:
// the allow-list consumption already prevents reuse, the blacklist makes
// "rotated/revoked" distinguishable from "never existed" server-side.
func (s *TokenService) BlacklistRefreshJTI(ctx context.Context, jti string, ttl time.Duration) error {
	return s.rdb.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err()
}

// IsRefreshBlacklisted reports whether the jti carries a blacklist flag.
func (s *TokenService) IsRefreshBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
