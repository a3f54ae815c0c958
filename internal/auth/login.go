package auth

import (
	"context"
	"strings"

	"github.com/iliyamo/online-market/internal/utils"
)

// LoginGate verifies credentials and nothing else; token issuance belongs
// to the refresh orchestrator.
type LoginGate struct {
	users UserProvider
}

func NewLoginGate(users UserProvider) *LoginGate {
	return &LoginGate{users: users}
}

// Login authenticates an identifier+password pair and returns the user id.
// Unknown identifier, inactive account and wrong password are
// indistinguishable to the caller, and the unknown-identifier branch burns
// a bcrypt comparison so the timing profile matches too.
func (g *LoginGate) Login(ctx context.Context, identifier, password string) (uint64, error) {
	identifier = strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(identifier)), ""))
	if identifier == "" || password == "" {
		return 0, ErrInvalidCredentials
	}

	u, err := g.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if u == nil {
		utils.BurnPasswordCheck(password)
		return 0, ErrInvalidCredentials
	}
	if !utils.VerifyPassword(u.PasswordHash, password) || !u.Active {
		return 0, ErrInvalidCredentials
	}
	return u.UserID, nil
}
