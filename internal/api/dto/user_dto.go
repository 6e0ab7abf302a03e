package dto

import (
	"time"

	"github.com/salesgrid/platform/internal/domain"
)

// SendCodeRequest asks for an SMS verification code.
type SendCodeRequest struct {
	Phone string `json:"phone"`
}

// SendCodeResponse tells the client when the code stops working.
type SendCodeResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRequest payload for self-service registration.
type RegisterRequest struct {
	Phone      string `json:"phone"`
	Code       string `json:"code"`
	Password   string `json:"password"`
	InviteCode string `json:"invite_code"`
	Nickname   string `json:"nickname"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// RefreshRequest carries the token to exchange when it is not sent as a bearer header.
type RefreshRequest struct {
	Token string `json:"token"`
}

// PasswordChangeRequest payload.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// PasswordResetRequest payload.
type PasswordResetRequest struct {
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

// CreateSubordinateRequest payload.
type CreateSubordinateRequest struct {
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID         string            `json:"id"`
	Nickname   string            `json:"nickname"`
	Phone      string            `json:"phone"`
	InviteCode string            `json:"invite_code"`
	Role       domain.Role       `json:"role"`
	InviterID  *string           `json:"inviter_id,omitempty"`
	Status     domain.UserStatus `json:"status"`
	TotalGMV   int64             `json:"total_gmv"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAuthResponse maps a token pair.
func NewAuthResponse(pair domain.TokenPair) AuthResponse {
	return AuthResponse{Token: pair.AccessToken, ExpiresAt: pair.ExpiresAt}
}

// NewUserResponse maps a user without credentials.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Nickname:   u.Nickname,
		Phone:      u.Phone,
		InviteCode: u.InviteCode,
		Role:       u.Role,
		InviterID:  u.InviterID,
		Status:     u.Status,
		TotalGMV:   u.TotalGMV,
		CreatedAt:  u.CreatedAt,
	}
}

// NewUserListResponse maps a slice of users.
func NewUserListResponse(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, NewUserResponse(&users[i]))
	}
	return out
}
