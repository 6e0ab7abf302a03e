package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/clock"
	"github.com/salesgrid/platform/internal/config"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/events"
	"github.com/salesgrid/platform/internal/repository"
	"github.com/salesgrid/platform/internal/session"
)

var testEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeUserRepo struct {
	mu        sync.Mutex
	seq       int
	byID      map[string]*domain.User
	insertErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*domain.User{}}
}

func (r *fakeUserRepo) Insert(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, u := range r.byID {
		if u.Phone == user.Phone {
			return &repository.DuplicateError{Constraint: constraintUserPhone}
		}
		if u.InviteCode == user.InviteCode {
			return &repository.DuplicateError{Constraint: constraintUserInviteCode}
		}
	}
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	user.CreatedAt, user.UpdatedAt = testEpoch, testEpoch
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	return r.findBy(func(u *domain.User) bool { return u.ID == id })
}

func (r *fakeUserRepo) FindByPhone(_ context.Context, phone string) (*domain.User, error) {
	return r.findBy(func(u *domain.User) bool { return u.Phone == phone })
}

func (r *fakeUserRepo) FindByInviteCode(_ context.Context, code string) (*domain.User, error) {
	return r.findBy(func(u *domain.User) bool { return u.InviteCode == code })
}

func (r *fakeUserRepo) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	_, err := r.FindByPhone(ctx, phone)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r *fakeUserRepo) ListByInviter(_ context.Context, inviterID string) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, u := range r.byID {
		if u.InviterID != nil && *u.InviterID == inviterID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeUserRepo) findBy(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// seed stores a user with the given role and password.
func (r *fakeUserRepo) seed(t *testing.T, phone string, role domain.Role, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &domain.User{
		Phone:        phone,
		PasswordHash: string(hash),
		Role:         role,
		Status:       domain.UserStatusActive,
		InviteCode:   "SEED" + phone[len(phone)-4:],
	}
	require.NoError(t, r.Insert(context.Background(), user))
	return user
}

// fakeLedger serializes transactions on the same code with a per-code mutex
// held from SelectForUpdate until the transaction ends, like a row lock.
type fakeLedger struct {
	mu      sync.Mutex
	seq     int
	codes   map[string]*domain.InvitationCode
	locks   map[string]*sync.Mutex
	records []domain.InvitationRecord
	txs     int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{codes: map[string]*domain.InvitationCode{}, locks: map[string]*sync.Mutex{}}
}

func (l *fakeLedger) WithinTx(_ context.Context, fn func(repository.InvitationTx) error) error {
	l.mu.Lock()
	l.txs++
	l.mu.Unlock()

	tx := &fakeLedgerTx{ledger: l, before: map[string]domain.InvitationCode{}}
	err := fn(tx)
	if err != nil {
		l.mu.Lock()
		for code, snapshot := range tx.before {
			restored := snapshot
			l.codes[code] = &restored
		}
		l.mu.Unlock()
	}
	for _, m := range tx.held {
		m.Unlock()
	}
	return err
}

func (l *fakeLedger) Create(_ context.Context, code *domain.InvitationCode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.codes[code.Code]; ok {
		return &repository.DuplicateError{Constraint: "invitation_codes_code_key"}
	}
	l.seq++
	code.ID = fmt.Sprintf("code-%d", l.seq)
	cp := *code
	l.codes[code.Code] = &cp
	return nil
}

func (l *fakeLedger) GetByCode(_ context.Context, code string) (*domain.InvitationCode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ic, ok := l.codes[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ic
	return &cp, nil
}

func (l *fakeLedger) ListByOwner(_ context.Context, ownerID string) ([]domain.InvitationCode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.InvitationCode
	for _, ic := range l.codes {
		if ic.UserID == ownerID {
			out = append(out, *ic)
		}
	}
	return out, nil
}

func (l *fakeLedger) Deactivate(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ic := range l.codes {
		if ic.ID == id {
			ic.Status = domain.InvitationCodeInactive
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (l *fakeLedger) InsertRecord(_ context.Context, record *domain.InvitationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	record.ID = fmt.Sprintf("record-%d", l.seq)
	l.records = append(l.records, *record)
	return nil
}

func (l *fakeLedger) put(code domain.InvitationCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	code.ID = fmt.Sprintf("code-%d", l.seq)
	if code.Status == "" {
		code.Status = domain.InvitationCodeActive
	}
	l.codes[code.Code] = &code
}

func (l *fakeLedger) get(code string) domain.InvitationCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.codes[code]
}

func (l *fakeLedger) recorded() []domain.InvitationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.InvitationRecord(nil), l.records...)
}

func (l *fakeLedger) transactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txs
}

type fakeLedgerTx struct {
	ledger *fakeLedger
	held   []*sync.Mutex
	before map[string]domain.InvitationCode
}

func (tx *fakeLedgerTx) SelectForUpdate(_ context.Context, code string) (*domain.InvitationCode, error) {
	l := tx.ledger
	l.mu.Lock()
	m, ok := l.locks[code]
	if !ok {
		m = &sync.Mutex{}
		l.locks[code] = m
	}
	l.mu.Unlock()

	m.Lock()
	tx.held = append(tx.held, m)

	l.mu.Lock()
	defer l.mu.Unlock()
	ic, ok := l.codes[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	tx.before[code] = *ic
	cp := *ic
	return &cp, nil
}

func (tx *fakeLedgerTx) IncrementUsage(_ context.Context, id string) (bool, error) {
	l := tx.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ic := range l.codes {
		if ic.ID != id {
			continue
		}
		if ic.Status != domain.InvitationCodeActive || (ic.MaxUsage != nil && ic.UsageCount >= *ic.MaxUsage) {
			return false, nil
		}
		ic.UsageCount++
		return true, nil
	}
	return false, nil
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) RecordRedemption(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

type fixture struct {
	users       *fakeUserRepo
	ledger      *fakeLedger
	recorder    *countingRecorder
	clock       *clock.FakeClock
	redis       *miniredis.Miniredis
	sessions    *session.Store
	tokens      *auth.TokenManager
	dispatcher  events.Dispatcher
	invitations *InvitationService
	auth        *AuthService
	userSvc     *UserService

	smsMu sync.Mutex
	sms   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:      newFakeUserRepo(),
		ledger:     newFakeLedger(),
		recorder:   &countingRecorder{},
		clock:      clock.NewFakeClock(testEpoch),
		redis:      miniredis.RunT(t),
		dispatcher: events.NewInMemoryDispatcher(),
		sms:        map[string]string{},
	}
	client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.sessions = session.NewStore(client)
	f.tokens = auth.NewTokenManager("service-test-secret", "salesgrid-test", 30*time.Minute, f.clock)

	f.dispatcher.Subscribe(events.EventVerificationCodeIssued, func(_ context.Context, e events.Event) error {
		payload := e.Payload.(events.VerificationCodeIssuedPayload)
		f.smsMu.Lock()
		defer f.smsMu.Unlock()
		f.sms[payload.Phone] = payload.Code
		return nil
	})

	cfg := config.Config{
		Auth:   config.AuthConfig{BcryptCost: bcrypt.MinCost},
		Verify: config.VerifyConfig{CodeTTLSeconds: 300, CooldownSeconds: 60},
	}
	f.invitations = NewInvitationService(InvitationDependencies{
		CodeRepo:   f.ledger,
		UserRepo:   f.users,
		Dispatcher: f.dispatcher,
		Clock:      f.clock,
		Recorder:   f.recorder,
		Logger:     zap.NewNop(),
	})
	f.auth = NewAuthService(cfg, AuthDependencies{
		UserRepo:    f.users,
		Invitations: f.invitations,
		Sessions:    f.sessions,
		Tokens:      f.tokens,
		Dispatcher:  f.dispatcher,
		Clock:       f.clock,
		Logger:      zap.NewNop(),
	})
	f.userSvc = NewUserService(f.users, zap.NewNop())
	return f
}

// verificationCode requests a code for phone and returns what was "sent".
func (f *fixture) verificationCode(t *testing.T, phone string) string {
	t.Helper()
	_, err := f.auth.SendVerificationCode(context.Background(), phone)
	require.NoError(t, err)
	f.smsMu.Lock()
	defer f.smsMu.Unlock()
	return f.sms[phone]
}

func identityOf(u *domain.User) auth.Identity {
	return auth.Identity{SubjectID: u.ID, Role: u.Role}
}

func intPtr(v int) *int { return &v }
