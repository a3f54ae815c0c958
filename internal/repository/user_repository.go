package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"

    "github.com/iliyamo/online-market/internal/model"
    "github.com/iliyamo/online-market/internal/utils"
)

// UserRepo reads and updates principal records.  The auth core treats the
// user table as an external collaborator: it looks principals up, hydrates
// their role sets and writes password hashes on ticket redemption, and
// nothing else.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// ErrUserNotFound is returned when no principal matches the lookup.
var ErrUserNotFound = errors.New("user not found")

const userColumns = "id,email,phone,password_hash,is_active,created_at,updated_at"

// GetByIdentifier fetches a user by normalized email or phone.  The caller
// is expected to have normalized the identifier already; normalization is
// repeated here so direct repository users cannot bypass it.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (model.User, error) {
    identifier = strings.ToLower(strings.TrimSpace(identifier))
    var u model.User
    err := r.DB.QueryRowContext(ctx,
        "SELECT "+userColumns+" FROM users WHERE email=? OR phone=? LIMIT 1",
        identifier, identifier).
        Scan(&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
    if err == sql.ErrNoRows {
        return model.User{}, ErrUserNotFound
    }
    return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
    var u model.User
    err := r.DB.QueryRowContext(ctx,
        "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1",
        id).
        Scan(&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
    if err == sql.ErrNoRows {
        return model.User{}, ErrUserNotFound
    }
    return u, err
}

// Roles returns the set of role names assigned to a user.  Role changes are
// picked up on the next token issuance or refresh without forcing re-login.
func (r *UserRepo) Roles(ctx context.Context, userID uint64) ([]string, error) {
    rows, err := r.DB.QueryContext(ctx,
        "SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id=r.id WHERE ur.user_id=?",
        userID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var roles []string
    for rows.Next() {
        var name string
        if err := rows.Scan(&name); err != nil {
            return nil, err
        }
        roles = append(roles, name)
    }
    return roles, rows.Err()
}

// Create inserts a user reachable at the given channel identifier and
// returns its ID.  Called when a set-password ticket is redeemed for an
// identifier with no existing account.
func (r *UserRepo) Create(ctx context.Context, channel, identifier, password string, cost int) (uint64, error) {
    identifier = strings.ToLower(strings.TrimSpace(identifier))
    hash, err := utils.HashPassword(password, cost)
    if err != nil {
        return 0, err
    }
    column := "phone"
    if channel == "email" {
        column = "email"
    }
    res, err := r.DB.ExecContext(ctx,
        "INSERT INTO users ("+column+", password_hash) VALUES (?,?)",
        identifier, hash)
    if err != nil {
        return 0, err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return 0, err
    }
    return uint64(id), nil
}

// SetPassword replaces a user's password hash.  Used by the reset-password
// ticket redemption path.
func (r *UserRepo) SetPassword(ctx context.Context, userID uint64, password string, cost int) error {
    hash, err := utils.HashPassword(password, cost)
    if err != nil {
        return err
    }
    _, err = r.DB.ExecContext(ctx,
        "UPDATE users SET password_hash=? WHERE id=?",
        hash, userID)
    return err
}
