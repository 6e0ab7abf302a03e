package events

import (
	"time"

	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/ids"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventVerificationCodeIssued EventType = "verification_code_issued"
	EventUserRegistered         EventType = "user_registered"
	EventInvitationRedeemed     EventType = "invitation_redeemed"
	EventSubordinateCreated     EventType = "subordinate_created"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a sortable id.
func New(eventType EventType, subjectID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        ids.New(),
		Type:      eventType,
		SubjectID: subjectID,
		Timestamp: at,
		Payload:   payload,
	}
}

// VerificationCodeIssuedPayload carries the code to deliver by SMS.
type VerificationCodeIssuedPayload struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Role       domain.Role `json:"role"`
	InviterID  *string     `json:"inviter_id,omitempty"`
	InviteCode string      `json:"invite_code,omitempty"`
}

// InvitationRedeemedPayload payload.
type InvitationRedeemedPayload struct {
	CodeID     string      `json:"code_id"`
	Code       string      `json:"code"`
	InviterID  string      `json:"inviter_id"`
	TargetRole domain.Role `json:"target_role"`
	UsageCount int         `json:"usage_count"`
}

// SubordinateCreatedPayload payload.
type SubordinateCreatedPayload struct {
	CreatorID string      `json:"creator_id"`
	Role      domain.Role `json:"role"`
}
