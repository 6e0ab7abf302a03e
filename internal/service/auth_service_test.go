package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/events"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

func TestSendVerificationCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiresAt, err := f.auth.SendVerificationCode(ctx, "13800138000")
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(5*time.Minute), expiresAt)
	assert.Len(t, f.sms["13800138000"], 6)

	_, err = f.auth.SendVerificationCode(ctx, "13800138000")
	assert.ErrorIs(t, err, apperrors.ErrVerificationCooldown)

	_, err = f.auth.SendVerificationCode(ctx, "12345")
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhone)
}

func TestRegisterWithoutInviteCode(t *testing.T) {
	f := newFixture(t)
	code := f.verificationCode(t, "13800138000")

	user, pair, err := f.auth.Register(context.Background(), RegisterInput{
		Phone:    "13800138000",
		Code:     code,
		Password: "hunter22",
		Nickname: "  Mei  ",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RoleAgent, user.Role)
	assert.Nil(t, user.InviterID)
	assert.Equal(t, "Mei", user.Nickname)
	assert.Len(t, user.InviteCode, codeLength)
	assert.NotEqual(t, "hunter22", user.PasswordHash)
	assert.Empty(t, f.ledger.recorded(), "no code referenced, no invitation record")

	id, err := f.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.SubjectID)
	assert.Equal(t, domain.RoleAgent, id.Role)
	assert.Equal(t, pair.ExpiresAt, id.ExpiresAt)
}

func TestRegisterWithInviteCode(t *testing.T) {
	f := newFixture(t)
	leader := f.users.seed(t, "13900000001", domain.RoleLeader, "secret1")
	f.ledger.put(domain.InvitationCode{UserID: leader.ID, Code: "JOINTEAM", TargetRole: domain.RoleSales, MaxUsage: intPtr(2)})
	code := f.verificationCode(t, "13800138000")

	user, _, err := f.auth.Register(context.Background(), RegisterInput{
		Phone:      "13800138000",
		Code:       code,
		Password:   "hunter22",
		InviteCode: "JOINTEAM",
		IPAddress:  "203.0.113.9",
		UserAgent:  "test-agent",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RoleSales, user.Role)
	require.NotNil(t, user.InviterID)
	assert.Equal(t, leader.ID, *user.InviterID)
	assert.Equal(t, 1, f.ledger.get("JOINTEAM").UsageCount)

	records := f.ledger.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, domain.InvitationRecordSuccess, records[0].Status)
	assert.Equal(t, "JOINTEAM", records[0].InviteCode)
	assert.Equal(t, leader.ID, *records[0].InviterID)
	assert.Equal(t, user.ID, *records[0].InviteeID)
	assert.Equal(t, "203.0.113.9", records[0].IPAddress)
	require.NotNil(t, records[0].RegisteredAt)
	assert.Equal(t, testEpoch, *records[0].RegisteredAt)
}

func TestRegisterExistingPhoneLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.users.seed(t, "13800000000", domain.RoleAgent, "secret1")
	f.ledger.put(domain.InvitationCode{UserID: "owner-1", Code: "UNTOUCHD", TargetRole: domain.RoleAgent, MaxUsage: intPtr(1)})
	code := f.verificationCode(t, "13800000000")

	_, _, err := f.auth.Register(context.Background(), RegisterInput{
		Phone:      "13800000000",
		Code:       code,
		Password:   "hunter22",
		InviteCode: "UNTOUCHD",
	})

	assert.ErrorIs(t, err, apperrors.ErrPhoneAlreadyExists)
	assert.Equal(t, 0, f.ledger.get("UNTOUCHD").UsageCount)
	assert.Equal(t, 0, f.ledger.transactions())
	assert.Empty(t, f.ledger.recorded())
}

func TestRegisterRejectsBadVerificationCode(t *testing.T) {
	f := newFixture(t)
	f.verificationCode(t, "13800138000")

	_, _, err := f.auth.Register(context.Background(), RegisterInput{Phone: "13800138000", Code: "000000x", Password: "hunter22"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidVerificationCode)

	_, _, err = f.auth.Register(context.Background(), RegisterInput{Phone: "13700137000", Code: "123456", Password: "hunter22"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidVerificationCode, "no code was ever sent to this phone")
	assert.Equal(t, 0, f.users.count())
}

func TestRegisterVerificationCodeExpires(t *testing.T) {
	f := newFixture(t)
	code := f.verificationCode(t, "13800138000")
	f.redis.FastForward(5 * time.Minute)

	_, _, err := f.auth.Register(context.Background(), RegisterInput{Phone: "13800138000", Code: code, Password: "hunter22"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidVerificationCode)
}

func TestRegisterRejectsInvalidPhoneBeforeAnythingElse(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.auth.Register(context.Background(), RegisterInput{Phone: "02012345678", Code: "123456", Password: "hunter22", InviteCode: "ANYCODE1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidPhone)
	assert.Equal(t, 0, f.ledger.transactions())
}

func TestRegisterWithExhaustedCodeRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.ledger.put(domain.InvitationCode{UserID: "owner-1", Code: "USEDUP01", TargetRole: domain.RoleAgent, MaxUsage: intPtr(1), UsageCount: 1})
	code := f.verificationCode(t, "13800138000")

	_, _, err := f.auth.Register(context.Background(), RegisterInput{Phone: "13800138000", Code: code, Password: "hunter22", InviteCode: "USEDUP01"})

	assert.ErrorIs(t, err, apperrors.ErrCodeExhausted)
	assert.Equal(t, 0, f.users.count())
	records := f.ledger.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, domain.InvitationRecordFailed, records[0].Status)
	assert.Nil(t, records[0].InviteeID)
}

func TestRegisterUserInsertFailureKeepsUsage(t *testing.T) {
	f := newFixture(t)
	f.ledger.put(domain.InvitationCode{UserID: "owner-1", Code: "KEEPUSE1", TargetRole: domain.RoleSales, MaxUsage: intPtr(5)})
	f.users.insertErr = errors.New("connection reset")
	code := f.verificationCode(t, "13800138000")

	_, _, err := f.auth.Register(context.Background(), RegisterInput{Phone: "13800138000", Code: code, Password: "hunter22", InviteCode: "KEEPUSE1"})

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INTERNAL_ERROR", domainErr.Code)
	assert.Equal(t, 1, f.ledger.get("KEEPUSE1").UsageCount, "usage is never rolled back")
	records := f.ledger.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, domain.InvitationRecordFailed, records[0].Status)
	assert.Equal(t, "owner-1", *records[0].InviterID)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	ctx := context.Background()

	got, pair, err := f.auth.Login(ctx, "13800138000", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	id, err := f.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSales, id.Role)

	_, _, err = f.auth.Login(ctx, "13800138000", "wrong-password")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, _, err = f.auth.Login(ctx, "13999999999", "hunter22")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLoginBannedAccount(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	user.Status = domain.UserStatusBanned
	require.NoError(t, f.users.Update(context.Background(), user))

	_, _, err := f.auth.Login(context.Background(), "13800138000", "hunter22")
	assert.ErrorIs(t, err, apperrors.ErrAccountBanned)

	_, _, err = f.auth.Login(context.Background(), "13800138000", "nope-nope")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials, "ban status is not revealed without the password")
}

func TestRefreshIssuesNewTokenAndRevokesOld(t *testing.T) {
	f := newFixture(t)
	f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	ctx := context.Background()
	_, first, err := f.auth.Login(ctx, "13800138000", "hunter22")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	second, err := f.auth.Refresh(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	oldID, err := f.tokens.Validate(first.AccessToken)
	require.NoError(t, err)
	revoked, err := f.sessions.IsRevoked(ctx, oldID.TokenID)
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = f.auth.Refresh(ctx, first.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid, "a refreshed token cannot be refreshed again")
}

func TestRefreshCarriesCurrentRole(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	_, pair, err := f.auth.Login(context.Background(), "13800138000", "hunter22")
	require.NoError(t, err)

	user.Role = domain.RoleLeader
	require.NoError(t, f.users.Update(context.Background(), user))

	next, err := f.auth.Refresh(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	id, err := f.tokens.Validate(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLeader, id.Role)
}

func TestRefreshFailures(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	ctx := context.Background()

	_, err := f.auth.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)

	_, pair, err := f.auth.Login(ctx, "13800138000", "hunter22")
	require.NoError(t, err)
	user.Status = domain.UserStatusBanned
	require.NoError(t, f.users.Update(ctx, user))
	_, err = f.auth.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrAccountBanned)

	f.clock.Advance(30 * time.Minute)
	_, err = f.auth.Refresh(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	other := f.users.seed(t, "13800138001", domain.RoleSales, "hunter22")
	ctx := context.Background()
	_, pair, err := f.auth.Login(ctx, "13800138000", "hunter22")
	require.NoError(t, err)

	assert.ErrorIs(t, f.auth.Logout(ctx, pair.AccessToken, other.ID), apperrors.ErrPermissionDenied)
	assert.ErrorIs(t, f.auth.Logout(ctx, "garbage", user.ID), apperrors.ErrTokenInvalid)

	require.NoError(t, f.auth.Logout(ctx, pair.AccessToken, user.ID))
	id, err := f.tokens.Validate(pair.AccessToken)
	require.NoError(t, err)
	revoked, err := f.sessions.IsRevoked(ctx, id.TokenID)
	require.NoError(t, err)
	assert.True(t, revoked)

	// The marker lives exactly as long as the token would have.
	f.redis.FastForward(30 * time.Minute)
	revoked, err = f.sessions.IsRevoked(ctx, id.TokenID)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestLogoutExpiredTokenIsNoop(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	_, pair, err := f.auth.Login(context.Background(), "13800138000", "hunter22")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	assert.NoError(t, f.auth.Logout(context.Background(), pair.AccessToken, user.ID))
}

func TestCreateSubordinate(t *testing.T) {
	f := newFixture(t)
	leader := f.users.seed(t, "13800000001", domain.RoleLeader, "secret1")
	ctx := context.Background()

	sub, err := f.auth.CreateSubordinate(ctx, identityOf(leader), CreateSubordinateInput{
		Phone:    "13800000002",
		Role:     domain.RoleSales,
		Password: "hunter22",
		Nickname: "Rep",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSales, sub.Role)
	require.NotNil(t, sub.InviterID)
	assert.Equal(t, leader.ID, *sub.InviterID)
	assert.Empty(t, f.ledger.recorded(), "direct creation bypasses the invitation ledger")

	_, _, err = f.auth.Login(ctx, "13800000002", "hunter22")
	assert.NoError(t, err)
}

func TestCreateSubordinateDenied(t *testing.T) {
	f := newFixture(t)
	leader := f.users.seed(t, "13800000001", domain.RoleLeader, "secret1")
	agent := f.users.seed(t, "13800000003", domain.RoleAgent, "secret1")
	ctx := context.Background()

	for _, tc := range []struct {
		actor *domain.User
		role  domain.Role
	}{
		{leader, domain.RoleLeader},
		{leader, domain.RoleDirector},
		{agent, domain.RoleAgent},
	} {
		_, err := f.auth.CreateSubordinate(ctx, identityOf(tc.actor), CreateSubordinateInput{Phone: "13800000009", Role: tc.role, Password: "hunter22"})
		assert.ErrorIs(t, err, apperrors.ErrPermissionDenied, "%s creating %s", tc.actor.Role, tc.role)
	}
	assert.Equal(t, 2, f.users.count())
}

func TestCreateSubordinateExistingPhone(t *testing.T) {
	f := newFixture(t)
	admin := f.users.seed(t, "13800000001", domain.RoleSuperAdmin, "secret1")
	f.users.seed(t, "13800000002", domain.RoleAgent, "secret1")

	_, err := f.auth.CreateSubordinate(context.Background(), identityOf(admin), CreateSubordinateInput{Phone: "13800000002", Role: domain.RoleDirector, Password: "hunter22"})
	assert.ErrorIs(t, err, apperrors.ErrPhoneAlreadyExists)
}

func TestInsertRaceOnPhoneReportsConflict(t *testing.T) {
	f := newFixture(t)
	f.users.seed(t, "13800000002", domain.RoleAgent, "secret1")

	err := f.auth.insertUser(context.Background(), &domain.User{Phone: "13800000002", Role: domain.RoleAgent})
	assert.ErrorIs(t, err, apperrors.ErrPhoneAlreadyExists)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	ctx := context.Background()

	assert.ErrorIs(t, f.auth.ChangePassword(ctx, identityOf(user), "wrong-one", "brand-new"), apperrors.ErrInvalidCredentials)
	require.NoError(t, f.auth.ChangePassword(ctx, identityOf(user), "hunter22", "brand-new"))

	_, _, err := f.auth.Login(ctx, "13800138000", "brand-new")
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	ctx := context.Background()
	code := f.verificationCode(t, "13800138000")

	assert.ErrorIs(t, f.auth.ResetPassword(ctx, "13800138000", "999999x", "brand-new"), apperrors.ErrInvalidVerificationCode)

	f.redis.FastForward(time.Minute)
	code = f.verificationCode(t, "13800138000")
	require.NoError(t, f.auth.ResetPassword(ctx, "13800138000", code, "brand-new"))

	_, _, err := f.auth.Login(ctx, "13800138000", "brand-new")
	assert.NoError(t, err)
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	user := f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")

	got, err := f.auth.Profile(context.Background(), identityOf(user))
	require.NoError(t, err)
	assert.Equal(t, user.Phone, got.Phone)

	_, err = f.auth.Profile(context.Background(), auth.Identity{SubjectID: "ghost", Role: domain.RoleAgent})
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "NOT_FOUND", domainErr.Code)
}

func TestSendVerificationCodePublishFailureAllowsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var failures atomic.Int32
	failures.Store(1)
	f.dispatcher.Subscribe(events.EventVerificationCodeIssued, func(context.Context, events.Event) error {
		if failures.Add(-1) >= 0 {
			return errors.New("queue full")
		}
		return nil
	})

	_, err := f.auth.SendVerificationCode(ctx, "13800138000")
	require.Error(t, err)
	undelivered := f.sms["13800138000"]
	ok, err := f.sessions.ConsumeVerificationCode(ctx, "13800138000", undelivered)
	require.NoError(t, err)
	assert.False(t, ok, "an undelivered code is not kept")

	_, err = f.auth.SendVerificationCode(ctx, "13800138000")
	require.NoError(t, err, "no cooldown after a failed delivery")
}

func TestConcurrentRefreshOfOneTokenHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.users.seed(t, "13800138000", domain.RoleSales, "hunter22")
	_, pair, err := f.auth.Login(context.Background(), "13800138000", "hunter22")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Refresh(context.Background(), pair.AccessToken)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load())
}
