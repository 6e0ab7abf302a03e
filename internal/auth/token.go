package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/salesgrid/platform/internal/clock"
	"github.com/salesgrid/platform/internal/domain"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Identity is the validated content of a bearer token.
type Identity struct {
	SubjectID string
	Role      domain.Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager handles issuing and validating JWT tokens. All instances that
// must accept each other's tokens share the secret and issuer.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
	parser *jwt.Parser
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret, issuer string, ttl time.Duration, clk clock.Clock) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		clock:  clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clk.Now),
		),
	}
}

// Claims describes JWT payload.
type Claims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TTL returns the lifetime applied by Issue.
func (tm *TokenManager) TTL() time.Duration {
	return tm.ttl
}

// Issue signs a token for the subject using the default lifetime.
func (tm *TokenManager) Issue(subjectID string, role domain.Role) (string, time.Time, error) {
	return tm.IssueWithTTL(subjectID, role, tm.ttl)
}

// IssueWithTTL signs a token valid from now until now+ttl. JWT times have
// whole-second precision, so now is truncated and the reported expiry is the
// exp claim itself. ttl must be at least one second.
func (tm *TokenManager) IssueWithTTL(subjectID string, role domain.Role, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subjectID) == "" {
		return "", time.Time{}, errors.New("subject id is required")
	}
	if !role.Valid() {
		return "", time.Time{}, errors.New("unknown role")
	}
	if ttl < time.Second {
		return "", time.Time{}, errors.New("ttl must be at least one second")
	}

	now := tm.clock.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl).Truncate(time.Second)
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tm.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// Validate verifies the signature and time bounds of tokenStr. It returns
// ErrTokenExpired once now >= exp and ErrTokenInvalid for every other failure.
func (tm *TokenManager) Validate(tokenStr string) (Identity, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Identity{}, ErrTokenInvalid
	}

	parsed, err := tm.parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	if err != nil {
		// The expiry error is only reported after the signature has been verified.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() || claims.ID == "" {
		return Identity{}, ErrTokenInvalid
	}
	// jwt accepts a token until now > exp; a token is dead from the exp instant.
	if !tm.clock.Now().Before(claims.ExpiresAt.Time) {
		return Identity{}, ErrTokenExpired
	}

	return Identity{
		SubjectID: claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}
