package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership binds a user to the company they act for. Every tenant-scoped
// query derives its company id from this record, never from client input.
type Membership struct {
	UserID    int64
	CompanyID int64
	Role      string
}
