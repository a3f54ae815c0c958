package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Redis key prefixes owned by the auth core.  Each keyspace has exactly one
// owning component; the session link set is additionally mutated by the
// refresh orchestrator through the registry's narrow link/unlink contract.
const (
	otpKeyPrefix       = "otp:"                // OTP records (hash per tuple)
	otpCooldownSuffix  = ":cd"                 // resend cooldown marker
	otpBlockSuffix     = ":blk"                // lockout flag
	ticketKeyPrefix    = "otp:ticket:"         // one-time ticket hash by jti
	ticketOncePrefix   = "auth:once:"          // write-once redemption marker
	allowKeyPrefix     = "auth:refresh:allow:" // refresh allow-list by jti
	blacklistKeyPrefix = "auth:rbl:"           // refresh blacklist by jti
	sessionKeyPrefix   = "session:"            // session records and indexes
)

// hash40 derives a deterministic, PII-free key fragment from a tuple of
// parts.  40 hex characters (160 bits) is collision-resistant for the
// cardinality involved while keeping keys short.
func hash40(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:40]
}

// hashSecret hashes a code or ticket before storage so a Redis dump never
// yields usable credentials.
func hashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeIdentifier canonicalizes a channel identifier: emails are
// trimmed and lowercased, phone numbers are stripped of all whitespace.
func NormalizeIdentifier(channel, identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if channel == ChannelEmail {
		return strings.ToLower(identifier)
	}
	return strings.Join(strings.Fields(identifier), "")
}
