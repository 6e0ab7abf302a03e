package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/clock"
	"github.com/salesgrid/platform/internal/config"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/events"
	"github.com/salesgrid/platform/internal/repository"
	"github.com/salesgrid/platform/internal/session"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

const (
	minPasswordLength = 6
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLength = 72

	constraintUserPhone      = "users_phone_key"
	constraintUserInviteCode = "users_invite_code_key"
)

// SessionStore keeps verification codes and token revocation markers.
type SessionStore interface {
	SaveVerificationCode(ctx context.Context, phone, code string, ttl, cooldown time.Duration) error
	ConsumeVerificationCode(ctx context.Context, phone, code string) (bool, error)
	ClearVerificationCode(ctx context.Context, phone string) error
	RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error
	ClaimRevocation(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}

// RegisterInput carries a self-service registration.
type RegisterInput struct {
	Phone      string
	Code       string
	Password   string
	InviteCode string
	Nickname   string
	IPAddress  string
	UserAgent  string
}

// CreateSubordinateInput carries an account created by a superior.
type CreateSubordinateInput struct {
	Phone    string
	Role     domain.Role
	Password string
	Nickname string
}

// AuthService coordinates registration, sign-in and token lifecycle flows.
type AuthService struct {
	users       repository.UserRepository
	invitations *InvitationService
	sessions    SessionStore
	tokens      *auth.TokenManager
	dispatcher  events.Dispatcher
	clock       clock.Clock
	logger      *zap.Logger
	bcryptCost  int
	codeTTL     time.Duration
	cooldown    time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	UserRepo    repository.UserRepository
	Invitations *InvitationService
	Sessions    SessionStore
	Tokens      *auth.TokenManager
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	s := &AuthService{
		users:       deps.UserRepo,
		invitations: deps.Invitations,
		sessions:    deps.Sessions,
		tokens:      deps.Tokens,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		logger:      deps.Logger,
		bcryptCost:  cfg.Auth.BcryptCost,
		codeTTL:     cfg.Verify.CodeTTL(),
		cooldown:    cfg.Verify.Cooldown(),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.codeTTL <= 0 {
		s.codeTTL = 5 * time.Minute
	}
	return s
}

// SendVerificationCode issues a one-time SMS code for phone and returns its expiry.
func (s *AuthService) SendVerificationCode(ctx context.Context, phone string) (time.Time, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return time.Time{}, err
	}

	code, err := newVerificationCode()
	if err != nil {
		return time.Time{}, apperrors.NewInternalError(err)
	}
	if err := s.sessions.SaveVerificationCode(ctx, phone, code, s.codeTTL, s.cooldown); err != nil {
		if errors.Is(err, session.ErrCooldown) {
			return time.Time{}, apperrors.ErrVerificationCooldown
		}
		return time.Time{}, apperrors.NewInternalError(err)
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.codeTTL)
	if s.dispatcher != nil {
		event := events.New(events.EventVerificationCodeIssued, "", now, events.VerificationCodeIssuedPayload{
			Phone:     phone,
			Code:      code,
			ExpiresAt: expiresAt,
		})
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			// Nothing was sent, so the caller may ask again right away.
			if clearErr := s.sessions.ClearVerificationCode(context.WithoutCancel(ctx), phone); clearErr != nil {
				s.logger.Warn("clear verification code failed", zap.Error(clearErr))
			}
			return time.Time{}, apperrors.NewInternalError(err)
		}
	}
	return expiresAt, nil
}

// Register creates an account after verifying the phone. With an invite code
// the new user takes the code's target role and its owner as inviter;
// without one the user joins as AGENT with no inviter.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, domain.TokenPair, error) {
	phone, err := normalizePhone(in.Phone)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, domain.TokenPair{}, err
	}
	if err := s.consumeCode(ctx, phone, in.Code); err != nil {
		return nil, domain.TokenPair{}, err
	}

	exists, err := s.users.ExistsByPhone(ctx, phone)
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	if exists {
		return nil, domain.TokenPair{}, apperrors.ErrPhoneAlreadyExists
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Nickname:     strings.TrimSpace(in.Nickname),
		Phone:        phone,
		PasswordHash: hash,
		Role:         domain.RoleAgent,
		Status:       domain.UserStatusActive,
	}

	inviteCode := strings.TrimSpace(in.InviteCode)
	if inviteCode != "" {
		redemption, err := s.invitations.Redeem(ctx, inviteCode, s.clock.Now())
		if err != nil {
			s.recordAttempt(ctx, in, inviteCode, nil, nil, domain.InvitationRecordFailed)
			return nil, domain.TokenPair{}, err
		}
		user.Role = redemption.TargetRole
		user.InviterID = &redemption.InviterID
	}

	if err := s.insertUser(ctx, user); err != nil {
		if inviteCode != "" {
			s.recordAttempt(ctx, in, inviteCode, user.InviterID, nil, domain.InvitationRecordFailed)
		}
		return nil, domain.TokenPair{}, err
	}
	if inviteCode != "" {
		s.recordAttempt(ctx, in, inviteCode, user.InviterID, &user.ID, domain.InvitationRecordSuccess)
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	s.publish(ctx, events.New(events.EventUserRegistered, user.ID, s.clock.Now(), events.UserRegisteredPayload{
		Role:       user.Role,
		InviterID:  user.InviterID,
		InviteCode: inviteCode,
	}))
	return user, pair, nil
}

// Login authenticates by phone and password.
func (s *AuthService) Login(ctx context.Context, phone, password string) (*domain.User, domain.TokenPair, error) {
	user, err := s.users.FindByPhone(ctx, strings.TrimSpace(phone))
	if errors.Is(err, pgx.ErrNoRows) {
		// Spend the same bcrypt work as a real comparison.
		_ = auth.ComparePassword(s.dummyPasswordHash(), password)
		return nil, domain.TokenPair{}, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, domain.TokenPair{}, apperrors.ErrInvalidCredentials
	}
	if user.Banned() {
		return nil, domain.TokenPair{}, apperrors.ErrAccountBanned
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh exchanges a live token for a new one carrying the user's current
// role. The old token is revoked even when the refresh fails later. Expired
// tokens are never renewed.
func (s *AuthService) Refresh(ctx context.Context, oldToken string) (domain.TokenPair, error) {
	id, err := s.validate(oldToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	// Claiming the old token id first lets only one concurrent refresh win.
	claimed, err := s.sessions.ClaimRevocation(ctx, id.TokenID, id.ExpiresAt.Sub(s.clock.Now()))
	if err != nil {
		return domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	if !claimed {
		return domain.TokenPair{}, apperrors.ErrTokenInvalid
	}

	user, err := s.users.FindByID(ctx, id.SubjectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TokenPair{}, apperrors.ErrTokenInvalid
	}
	if err != nil {
		return domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	if user.Banned() {
		return domain.TokenPair{}, apperrors.ErrAccountBanned
	}
	return s.issue(user)
}

// Logout revokes token until its natural expiry. The token must belong to userID.
func (s *AuthService) Logout(ctx context.Context, token, userID string) error {
	id, err := s.validate(token)
	if errors.Is(err, apperrors.ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	if id.SubjectID != userID {
		return apperrors.ErrPermissionDenied
	}

	if err := s.sessions.RevokeToken(ctx, id.TokenID, id.ExpiresAt.Sub(s.clock.Now())); err != nil {
		return apperrors.NewInternalError(err)
	}
	s.logger.Info("user logged out", zap.String("user_id", userID))
	return nil
}

// CreateSubordinate lets actor create an account of a lower role directly,
// without an invitation code. The new user's inviter is the actor.
func (s *AuthService) CreateSubordinate(ctx context.Context, actor auth.Identity, in CreateSubordinateInput) (*domain.User, error) {
	if !in.Role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": in.Role})
	}
	if err := auth.RequireCreate(actor.Role, in.Role); err != nil {
		return nil, err
	}
	phone, err := normalizePhone(in.Phone)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByPhone(ctx, phone)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if exists {
		return nil, apperrors.ErrPhoneAlreadyExists
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	inviterID := actor.SubjectID
	user := &domain.User{
		Nickname:     strings.TrimSpace(in.Nickname),
		Phone:        phone,
		PasswordHash: hash,
		Role:         in.Role,
		InviterID:    &inviterID,
		Status:       domain.UserStatusActive,
	}
	if err := s.insertUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("subordinate created",
		zap.String("user_id", user.ID),
		zap.String("creator_id", actor.SubjectID),
		zap.String("role", string(user.Role)))
	s.publish(ctx, events.New(events.EventSubordinateCreated, user.ID, s.clock.Now(), events.SubordinateCreatedPayload{
		CreatorID: actor.SubjectID,
		Role:      user.Role,
	}))
	return user, nil
}

// ChangePassword verifies current password before updating to new hash.
func (s *AuthService) ChangePassword(ctx context.Context, actor auth.Identity, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.users.FindByID(ctx, actor.SubjectID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperrors.ErrInvalidCredentials
	}
	return s.setPassword(ctx, user, newPassword)
}

// ResetPassword sets a new password for the account owning phone, proven by
// an SMS verification code.
func (s *AuthService) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	phone, err := normalizePhone(phone)
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if err := s.consumeCode(ctx, phone, code); err != nil {
		return err
	}

	user, err := s.users.FindByPhone(ctx, phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("user", nil)
	}
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return s.setPassword(ctx, user, newPassword)
}

// Profile returns the caller's own account.
func (s *AuthService) Profile(ctx context.Context, actor auth.Identity) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, actor.SubjectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("user", nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}

func (s *AuthService) setPassword(ctx context.Context, user *domain.User, password string) error {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

func (s *AuthService) validate(token string) (auth.Identity, error) {
	id, err := s.tokens.Validate(token)
	if errors.Is(err, auth.ErrTokenExpired) {
		return auth.Identity{}, apperrors.ErrTokenExpired
	}
	if err != nil {
		return auth.Identity{}, apperrors.ErrTokenInvalid
	}
	return id, nil
}

func (s *AuthService) issue(user *domain.User) (domain.TokenPair, error) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return domain.TokenPair{}, apperrors.NewInternalError(err)
	}
	return domain.TokenPair{AccessToken: token, ExpiresAt: expiresAt}, nil
}

func (s *AuthService) consumeCode(ctx context.Context, phone, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.ErrInvalidVerificationCode
	}
	ok, err := s.sessions.ConsumeVerificationCode(ctx, phone, code)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if !ok {
		return apperrors.ErrInvalidVerificationCode
	}
	return nil
}

// insertUser assigns a fresh personal invite code, retrying on collision.
func (s *AuthService) insertUser(ctx context.Context, user *domain.User) error {
	for attempt := 0; attempt < codeCreateRetries; attempt++ {
		code, err := newInviteCode()
		if err != nil {
			return apperrors.NewInternalError(err)
		}
		user.InviteCode = code

		err = s.users.Insert(ctx, user)
		if err == nil {
			return nil
		}
		var dup *repository.DuplicateError
		if !errors.As(err, &dup) {
			return apperrors.NewInternalError(err)
		}
		switch dup.Constraint {
		case constraintUserInviteCode:
			continue
		case constraintUserPhone:
			// Lost a race with a concurrent registration of the same phone.
			return apperrors.ErrPhoneAlreadyExists
		default:
			return apperrors.NewInternalError(err)
		}
	}
	return apperrors.NewInternalError(errors.New("could not allocate a unique user invite code"))
}

func (s *AuthService) recordAttempt(ctx context.Context, in RegisterInput, code string, inviterID, inviteeID *string, status domain.InvitationRecordStatus) {
	record := &domain.InvitationRecord{
		InviterID:  inviterID,
		InviteeID:  inviteeID,
		InviteCode: code,
		Status:     status,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	}
	if status == domain.InvitationRecordSuccess {
		now := s.clock.Now()
		record.RegisteredAt = &now
	}
	if err := s.invitations.RecordAttempt(ctx, record); err != nil {
		s.logger.Error("record invitation attempt failed",
			zap.String("invite_code", code),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (s *AuthService) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPassword("salesgrid-timing-equalizer", s.bcryptCost)
	})
	return s.dummyHash
}

func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return "", apperrors.ErrInvalidPhone
	}
	return phone, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return apperrors.NewValidationError("password must be between 6 and 72 characters", nil)
	}
	return nil
}
