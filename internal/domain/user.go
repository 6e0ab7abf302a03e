package domain

import "time"

// UserStatus represents lifecycle states for a platform user.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusBanned UserStatus = "BANNED"
)

// User is a member of the sales hierarchy.
type User struct {
	ID           string
	Nickname     string
	InviteCode   string
	Phone        string
	PasswordHash string
	Role         Role
	InviterID    *string
	Status       UserStatus
	TotalGMV     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Banned reports whether the account is blocked from signing in.
func (u *User) Banned() bool {
	return u.Status == UserStatusBanned
}
