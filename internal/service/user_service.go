package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/repository"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// UserService scopes reads and status changes by the role hierarchy.
type UserService struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewUserService constructs the service.
func NewUserService(users repository.UserRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{users: users, logger: logger}
}

// Get returns the user with id if actor is that user or outranks them.
func (s *UserService) Get(ctx context.Context, actor auth.Identity, id string) (*domain.User, error) {
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.ID == actor.SubjectID {
		return user, nil
	}
	if err := auth.RequireAccess(actor.Role, user.Role); err != nil {
		return nil, err
	}
	return user, nil
}

// ListSubordinates returns the users actor brought in directly.
func (s *UserService) ListSubordinates(ctx context.Context, actor auth.Identity) ([]domain.User, error) {
	users, err := s.users.ListByInviter(ctx, actor.SubjectID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return users, nil
}

// SetStatus bans or reinstates a user. The actor must outrank the target.
func (s *UserService) SetStatus(ctx context.Context, actor auth.Identity, id string, status domain.UserStatus) (*domain.User, error) {
	if status != domain.UserStatusActive && status != domain.UserStatusBanned {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": status})
	}
	user, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAccess(actor.Role, user.Role); err != nil {
		return nil, err
	}
	if user.Status == status {
		return user, nil
	}

	user.Status = status
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("user status changed",
		zap.String("user_id", user.ID),
		zap.String("actor_id", actor.SubjectID),
		zap.String("status", string(status)))
	return user, nil
}

func (s *UserService) find(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}
