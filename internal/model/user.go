package model

import (
    "database/sql"
    "time"
)

// User represents an application user record as stored in the
// `users` table.  The core only reads principals; account rows are
// created by the onboarding flow once a one-time ticket has been
// redeemed for a credential set.  Identifiers are stored normalized
// (lowercased email, whitespace-stripped phone) so lookups are
// deterministic.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address (nullable when phone-only).
//  Phone        – unique phone number (nullable when email-only).
//  PasswordHash – bcrypt hashed password.
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           uint64         // users.id
    Email        sql.NullString // users.email
    Phone        sql.NullString // users.phone
    PasswordHash string         // users.password_hash
    IsActive     bool           // users.is_active
    CreatedAt    time.Time      // users.created_at
    UpdatedAt    time.Time      // users.updated_at
}

// Role represents a row in the `roles` table.  Users reference roles
// through the `user_roles` join table; a principal carries a set of
// role names, all of which end up in the access token's roles claim.
//
// Fields:
//  ID   – numeric identifier of the role.
//  Name – unique role name (e.g. CUSTOMER, MERCHANT, ADMIN).
type Role struct {
    ID   uint8  // roles.id
    Name string // roles.name
}
