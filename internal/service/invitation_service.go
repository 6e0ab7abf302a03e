package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/clock"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/events"
	"github.com/salesgrid/platform/internal/repository"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// Redemption outcomes reported to the RedemptionRecorder.
const (
	RedemptionSuccess   = "success"
	RedemptionNotFound  = "not_found"
	RedemptionInactive  = "inactive"
	RedemptionExpired   = "expired"
	RedemptionExhausted = "exhausted"
	RedemptionError     = "error"
)

// RedemptionRecorder receives the outcome of each redeem attempt.
type RedemptionRecorder interface {
	RecordRedemption(outcome string)
}

// Redemption is the result of consuming one use of an invitation code.
type Redemption struct {
	CodeID     string
	Code       string
	InviterID  string
	TargetRole domain.Role
	UsageCount int
}

// CreateCodeInput describes a new invitation code.
type CreateCodeInput struct {
	TargetRole domain.Role
	MaxUsage   *int
	ExpiresAt  *time.Time
}

// InvitationService owns invitation codes and their redemption.
type InvitationService struct {
	codes      repository.InvitationRepository
	users      repository.UserRepository
	dispatcher events.Dispatcher
	clock      clock.Clock
	recorder   RedemptionRecorder
	logger     *zap.Logger
}

// InvitationDependencies encapsulates the collaborators of the ledger.
type InvitationDependencies struct {
	CodeRepo   repository.InvitationRepository
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Recorder   RedemptionRecorder
	Logger     *zap.Logger
}

// NewInvitationService builds the service.
func NewInvitationService(deps InvitationDependencies) *InvitationService {
	s := &InvitationService{
		codes:      deps.CodeRepo,
		users:      deps.UserRepo,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		recorder:   deps.Recorder,
		logger:     deps.Logger,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Redeem consumes one use of code. The row lock taken by SelectForUpdate is
// held until the increment commits, so concurrent redemptions of the same
// code are serialized. A committed increment is never rolled back.
func (s *InvitationService) Redeem(ctx context.Context, code string, now time.Time) (*Redemption, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		s.record(RedemptionNotFound)
		return nil, apperrors.ErrCodeNotFound
	}

	var redemption *Redemption
	err := s.codes.WithinTx(ctx, func(tx repository.InvitationTx) error {
		ic, err := tx.SelectForUpdate(ctx, code)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrCodeNotFound
		}
		if err != nil {
			return err
		}

		switch ic.StateAt(now) {
		case domain.CodeStateInactive:
			return apperrors.ErrCodeInactive
		case domain.CodeStateExpired:
			return apperrors.ErrCodeExpired
		case domain.CodeStateExhausted:
			return apperrors.ErrCodeExhausted
		}

		ok, err := tx.IncrementUsage(ctx, ic.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ErrCodeExhausted
		}

		redemption = &Redemption{
			CodeID:     ic.ID,
			Code:       ic.Code,
			InviterID:  ic.UserID,
			TargetRole: ic.TargetRole,
			UsageCount: ic.UsageCount + 1,
		}
		return nil
	})
	if err != nil {
		s.record(redemptionOutcome(err))
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, apperrors.NewInternalError(err)
	}

	s.record(RedemptionSuccess)
	s.publish(ctx, events.New(events.EventInvitationRedeemed, redemption.InviterID, now, events.InvitationRedeemedPayload{
		CodeID:     redemption.CodeID,
		Code:       redemption.Code,
		InviterID:  redemption.InviterID,
		TargetRole: redemption.TargetRole,
		UsageCount: redemption.UsageCount,
	}))
	return redemption, nil
}

// CreateCode issues a new code owned by actor. The actor must be allowed to
// create accounts of the target role.
func (s *InvitationService) CreateCode(ctx context.Context, actor auth.Identity, in CreateCodeInput) (*domain.InvitationCode, error) {
	if !in.TargetRole.Valid() {
		return nil, apperrors.NewValidationError("unknown target role", map[string]any{"target_role": in.TargetRole})
	}
	if err := auth.RequireCreate(actor.Role, in.TargetRole); err != nil {
		return nil, err
	}
	if in.MaxUsage != nil && *in.MaxUsage <= 0 {
		return nil, apperrors.NewValidationError("max_usage must be positive", nil)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.clock.Now()) {
		return nil, apperrors.NewValidationError("expires_at must be in the future", nil)
	}

	for attempt := 0; attempt < codeCreateRetries; attempt++ {
		value, err := newInviteCode()
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		code := &domain.InvitationCode{
			UserID:     actor.SubjectID,
			Code:       value,
			TargetRole: in.TargetRole,
			Status:     domain.InvitationCodeActive,
			MaxUsage:   in.MaxUsage,
			ExpiresAt:  in.ExpiresAt,
		}
		err = s.codes.Create(ctx, code)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		s.logger.Info("invitation code created",
			zap.String("code_id", code.ID),
			zap.String("owner_id", actor.SubjectID),
			zap.String("target_role", string(in.TargetRole)))
		return code, nil
	}
	return nil, apperrors.NewInternalError(errors.New("could not allocate a unique invitation code"))
}

// ListCodes returns the codes owned by actor, newest first.
func (s *InvitationService) ListCodes(ctx context.Context, actor auth.Identity) ([]domain.InvitationCode, error) {
	codes, err := s.codes.ListByOwner(ctx, actor.SubjectID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return codes, nil
}

// Deactivate makes code permanently unredeemable. It is idempotent and does
// not take the redemption lock. Only the owner or a user outranking the owner
// may deactivate a code.
func (s *InvitationService) Deactivate(ctx context.Context, actor auth.Identity, code string) (*domain.InvitationCode, error) {
	ic, err := s.codes.GetByCode(ctx, strings.TrimSpace(code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrCodeNotFound
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	if ic.UserID != actor.SubjectID {
		owner, err := s.users.FindByID(ctx, ic.UserID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if err := auth.RequireAccess(actor.Role, owner.Role); err != nil {
			return nil, err
		}
	}

	if ic.Status == domain.InvitationCodeInactive {
		return ic, nil
	}
	if err := s.codes.Deactivate(ctx, ic.ID); err != nil {
		return nil, apperrors.MapError(err)
	}
	ic.Status = domain.InvitationCodeInactive
	s.logger.Info("invitation code deactivated", zap.String("code_id", ic.ID), zap.String("actor_id", actor.SubjectID))
	return ic, nil
}

// RecordAttempt appends the audit record of a registration that referenced a code.
func (s *InvitationService) RecordAttempt(ctx context.Context, record *domain.InvitationRecord) error {
	if record.Status == "" {
		record.Status = domain.InvitationRecordPending
	}
	if err := s.codes.InsertRecord(ctx, record); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (s *InvitationService) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordRedemption(outcome)
	}
}

func (s *InvitationService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func redemptionOutcome(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrCodeNotFound):
		return RedemptionNotFound
	case errors.Is(err, apperrors.ErrCodeInactive):
		return RedemptionInactive
	case errors.Is(err, apperrors.ErrCodeExpired):
		return RedemptionExpired
	case errors.Is(err, apperrors.ErrCodeExhausted):
		return RedemptionExhausted
	default:
		return RedemptionError
	}
}
