package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func newTestTokens(rdb redis.UniversalClient) *TokenService {
	return NewTokenService(rdb,
		"access-secret", "refresh-secret", "ticket-secret",
		15*time.Minute, 7*24*time.Hour, 10*time.Minute)
}

// mockUsers implements UserProvider over an in-memory map.
type mockUsers struct {
	mu      sync.Mutex
	records map[string]UserRecord // identifier -> record
	roles   map[uint64][]string
}

func newMockUsers() *mockUsers {
	return &mockUsers{
		records: map[string]UserRecord{},
		roles:   map[uint64][]string{},
	}
}

func (m *mockUsers) FindByIdentifier(_ context.Context, identifier string) (*UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[identifier]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockUsers) Roles(_ context.Context, userID uint64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[userID], nil
}

// mockSender records dispatched codes and can be forced to fail.
type mockSender struct {
	mu   sync.Mutex
	sent []sentCode
	fail error
}

type sentCode struct {
	Channel    string
	Identifier string
	Code       string
	Purpose    string
}

func (m *mockSender) SendCode(_ context.Context, channel, identifier, code, purpose string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, sentCode{Channel: channel, Identifier: identifier, Code: code, Purpose: purpose})
	return nil
}

func (m *mockSender) last(t *testing.T) sentCode {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no code was dispatched")
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testOTPConfig() OTPConfig {
	return OTPConfig{
		CodeTTL:        5 * time.Minute,
		ResendCooldown: time.Minute,
		MaxAttempts:    5,
		MaxSends:       3,
		BlockTTL:       15 * time.Minute,
		RequestMax:     50,
		RequestWindow:  10 * time.Minute,
		RequestIPMax:   100,
		VerifyMax:      50,
		VerifyWindow:   10 * time.Minute,
		VerifyIPMax:    100,
	}
}

func newTestOTP(rdb redis.UniversalClient, sender CodeSender, cfg OTPConfig) *OTPService {
	return NewOTPService(rdb, NewLimiter(rdb), newTestTokens(rdb), sender, cfg)
}

func newTestRefresh(rdb redis.UniversalClient, users UserProvider) (*RefreshService, *TokenService, *AllowListStore, *SessionStore) {
	tokens := newTestTokens(rdb)
	allow := NewAllowListStore(rdb)
	sessions := NewSessionStore(rdb, 7*24*time.Hour)
	svc := NewRefreshService(tokens, allow, sessions, users, NewLimiter(rdb),
		7*24*time.Hour, 100, time.Minute)
	svc.logf = func(string, ...any) {} // keep test output clean
	return svc, tokens, allow, sessions
}
