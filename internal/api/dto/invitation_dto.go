package dto

import (
	"time"

	"github.com/salesgrid/platform/internal/domain"
)

// CreateInvitationCodeRequest payload.
type CreateInvitationCodeRequest struct {
	TargetRole string     `json:"target_role"`
	MaxUsage   *int       `json:"max_usage"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// InvitationCodeResponse is the owner's view of a code.
type InvitationCodeResponse struct {
	ID         string                      `json:"id"`
	Code       string                      `json:"code"`
	TargetRole domain.Role                 `json:"target_role"`
	Status     domain.InvitationCodeStatus `json:"status"`
	State      domain.CodeState            `json:"state"`
	UsageCount int                         `json:"usage_count"`
	MaxUsage   *int                        `json:"max_usage,omitempty"`
	ExpiresAt  *time.Time                  `json:"expires_at,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
}

// NewInvitationCodeResponse maps a code, evaluating its state at now.
func NewInvitationCodeResponse(c *domain.InvitationCode, now time.Time) InvitationCodeResponse {
	return InvitationCodeResponse{
		ID:         c.ID,
		Code:       c.Code,
		TargetRole: c.TargetRole,
		Status:     c.Status,
		State:      c.StateAt(now),
		UsageCount: c.UsageCount,
		MaxUsage:   c.MaxUsage,
		ExpiresAt:  c.ExpiresAt,
		CreatedAt:  c.CreatedAt,
	}
}
