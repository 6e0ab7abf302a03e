package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	verificationPrefix = "auth:sms:code:"
	cooldownPrefix     = "auth:sms:cooldown:"
	revokedPrefix      = "auth:token:revoked:"
)

// ErrCooldown is returned when a code was issued for the phone too recently.
var ErrCooldown = errors.New("verification code cooldown active")

// Store keeps short-lived auth state in Redis: SMS verification codes and
// revocation markers for logged out tokens.
type Store struct {
	rdb redis.Cmdable
}

// NewStore wraps a go-redis client.
func NewStore(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

// SaveVerificationCode stores code for phone with ttl. A second call for the
// same phone within cooldown fails with ErrCooldown and leaves the stored code
// untouched.
func (s *Store) SaveVerificationCode(ctx context.Context, phone, code string, ttl, cooldown time.Duration) error {
	if cooldown > 0 {
		acquired, err := s.rdb.SetNX(ctx, cooldownPrefix+phone, "1", cooldown).Result()
		if err != nil {
			return err
		}
		if !acquired {
			return ErrCooldown
		}
	}
	return s.rdb.Set(ctx, verificationPrefix+phone, code, ttl).Err()
}

// ConsumeVerificationCode removes the stored code for phone and reports
// whether it matched. Codes are single use; a wrong guess also burns the code.
func (s *Store) ConsumeVerificationCode(ctx context.Context, phone, code string) (bool, error) {
	stored, err := s.rdb.GetDel(ctx, verificationPrefix+phone).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1, nil
}

// RevokeToken marks tokenID as revoked for ttl, normally the token's
// remaining lifetime. Already expired tokens need no marker.
func (s *Store) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedPrefix+tokenID, "1", ttl).Err()
}

// ClaimRevocation revokes tokenID for ttl only if no marker exists yet. It
// reports false when another caller revoked the token first.
func (s *Store) ClaimRevocation(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	return s.rdb.SetNX(ctx, revokedPrefix+tokenID, "1", ttl).Result()
}

// ClearVerificationCode drops the stored code and the cooldown for phone.
func (s *Store) ClearVerificationCode(ctx context.Context, phone string) error {
	return s.rdb.Del(ctx, verificationPrefix+phone, cooldownPrefix+phone).Err()
}

// IsRevoked reports whether tokenID carries a revocation marker.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
