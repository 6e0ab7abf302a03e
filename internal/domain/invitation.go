package domain

import "time"

// InvitationCodeStatus is the administrative status of a code.
type InvitationCodeStatus string

const (
	InvitationCodeActive   InvitationCodeStatus = "ACTIVE"
	InvitationCodeInactive InvitationCodeStatus = "INACTIVE"
)

// CodeState is the redemption state derived from status, expiry and usage.
type CodeState string

const (
	CodeStateAvailable CodeState = "available"
	CodeStateExhausted CodeState = "exhausted"
	CodeStateExpired   CodeState = "expired"
	CodeStateInactive  CodeState = "inactive"
)

// InvitationCode links registrants to the inviter that owns it.
type InvitationCode struct {
	ID         string
	UserID     string
	Code       string
	TargetRole Role
	Status     InvitationCodeStatus
	UsageCount int
	MaxUsage   *int
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StateAt evaluates the code at now. Inactive overrides expiry, which overrides exhaustion.
func (c *InvitationCode) StateAt(now time.Time) CodeState {
	if c.Status != InvitationCodeActive {
		return CodeStateInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return CodeStateExpired
	}
	if c.MaxUsage != nil && c.UsageCount >= *c.MaxUsage {
		return CodeStateExhausted
	}
	return CodeStateAvailable
}

// InvitationRecordStatus is the outcome of a registration that referenced a code.
type InvitationRecordStatus string

const (
	InvitationRecordSuccess InvitationRecordStatus = "SUCCESS"
	InvitationRecordPending InvitationRecordStatus = "PENDING"
	InvitationRecordFailed  InvitationRecordStatus = "FAILED"
)

// InvitationRecord is the write-once audit entry of a registration attempt.
type InvitationRecord struct {
	ID           string
	InviterID    *string
	InviteeID    *string
	InviteCode   string
	Status       InvitationRecordStatus
	RegisteredAt *time.Time
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}
