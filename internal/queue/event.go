// Package queue defines message payloads exchanged over the message broker.
package queue

// CodeDispatchEvent is published when the OTP state machine issues a code.
// The notification worker consumes it and hands the code to the
// channel-appropriate provider (SMS gateway or mail relay).  The code is in
// the payload because the worker must deliver it; it must never appear in
// logs unmasked.
type CodeDispatchEvent struct {
    Channel     string `json:"channel"`    // "sms" or "email"
    Recipient   string `json:"recipient"`  // normalized identifier
    Code        string `json:"code"`       // 6-digit one-time code
    Purpose     string `json:"purpose"`    // e.g. register, password-reset
    TTLSeconds  int    `json:"ttl_seconds"`
    RequestedAt string `json:"requested_at"` // RFC3339 UTC
}
