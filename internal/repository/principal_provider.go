package repository

import (
	"context"
	"errors"

	"github.com/iliyamo/online-market/internal/auth"
)

// PrincipalSource adapts UserRepo to the auth core's UserProvider contract,
// translating the repository's not-found sentinel into the (nil, nil)
// convention the login gate expects.
type PrincipalSource struct{ Users *UserRepo }

func NewPrincipalSource(users *UserRepo) *PrincipalSource {
	return &PrincipalSource{Users: users}
}

func (p *PrincipalSource) FindByIdentifier(ctx context.Context, identifier string) (*auth.UserRecord, error) {
	u, err := p.Users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auth.UserRecord{
		UserID:       u.ID,
		PasswordHash: u.PasswordHash,
		Active:       u.IsActive,
	}, nil
}

func (p *PrincipalSource) Roles(ctx context.Context, userID uint64) ([]string, error) {
	return p.Users.Roles(ctx, userID)
}
