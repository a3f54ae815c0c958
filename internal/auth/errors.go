package auth

import (
	"errors"
	"net/http"
)

// Error is the closed failure taxonomy of the auth core.  Every failure
// surfaced to the transport layer is one of these values (or wraps one), so
// handlers can map Code to an HTTP status 1:1 without inspecting message
// text.  RetryAfter is only set on rate-limit failures.
type Error struct {
	Code       string // machine-readable code, stable across releases
	Status     int    // HTTP status the transport should answer with
	Message    string // human message, safe to return to clients
	RetryAfter int    // seconds until the window resets (429 only)
}

func (e *Error) Error() string { return e.Message }

var (
	// ErrInvalidCredentials covers both unknown identifier and wrong
	// password; callers must not be able to tell which occurred.
	ErrInvalidCredentials = &Error{Code: "invalid_credentials", Status: http.StatusUnauthorized, Message: "invalid credentials"}

	// ErrInvalidOrExpired covers "no active code", "expired code" and
	// "wrong code".  One message for all three closes the enumeration
	// side channel.
	ErrInvalidOrExpired = &Error{Code: "invalid_or_expired", Status: http.StatusBadRequest, Message: "Invalid or expired code."}

	// ErrBlocked is returned while a lockout flag is set for an OTP tuple.
	ErrBlocked = &Error{Code: "blocked", Status: http.StatusForbidden, Message: "too many attempts, try again later"}

	// ErrTokenInvalid covers every refresh failure visible to clients:
	// missing, malformed, expired, replayed and mismatched tokens all
	// collapse to this one value.  The distinguishing detail is logged
	// server-side only.
	ErrTokenInvalid = &Error{Code: "token_invalid", Status: http.StatusUnauthorized, Message: "token is invalid or no longer valid"}

	// ErrTicketInvalid is returned when a one-time ticket fails
	// verification or has already been redeemed.
	ErrTicketInvalid = &Error{Code: "ticket_invalid", Status: http.StatusBadRequest, Message: "ticket is invalid or no longer valid"}
)

// RateLimited builds a 429 failure carrying the remaining window time.
func RateLimited(retryAfter int) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{
		Code:       "too_many_requests",
		Status:     http.StatusTooManyRequests,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// AsError unwraps err into the taxonomy, or nil when err is not one of ours.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
