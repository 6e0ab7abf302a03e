package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const bearerPrefix = "bearer "

var (
	errMissingToken   = errors.New("missing bearer token")
	errMalformedToken = errors.New("malformed authorization header")
)

// Filter results reported to the ResultRecorder.
const (
	ResultPublic        = "public"
	ResultAnonymous     = "anonymous"
	ResultMalformed     = "malformed"
	ResultInvalid       = "invalid"
	ResultExpired       = "expired"
	ResultRevoked       = "revoked"
	ResultAuthenticated = "authenticated"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (Identity, error)
}

// RevocationChecker reports tokens revoked before their natural expiry.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ResultRecorder receives one result per request passing the filter.
type ResultRecorder interface {
	RecordAuthResult(result string)
}

// Filter establishes the request identity from the bearer token. It never
// rejects a request: callers without a valid token continue anonymously and
// handlers decide with RequireIdentity.
type Filter struct {
	tokens    TokenValidator
	revoked   RevocationChecker
	allowlist Allowlist
	logger    *zap.Logger
	recorder  ResultRecorder
}

// FilterOption customizes a Filter.
type FilterOption func(*Filter)

// WithRevocationChecker enables the logout blacklist lookup.
func WithRevocationChecker(rc RevocationChecker) FilterOption {
	return func(f *Filter) { f.revoked = rc }
}

// WithResultRecorder reports each filter decision, typically to metrics.
func WithResultRecorder(r ResultRecorder) FilterOption {
	return func(f *Filter) { f.recorder = r }
}

// NewFilter constructs the auth filter.
func NewFilter(tokens TokenValidator, allowlist Allowlist, logger *zap.Logger, opts ...FilterOption) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Filter{tokens: tokens, allowlist: allowlist, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle is the fiber middleware. The identity is visible through
// c.UserContext() for the rest of the chain and removed when the chain
// returns or panics, since fiber recycles *fiber.Ctx across requests.
func (f *Filter) Handle(c *fiber.Ctx) error {
	parent := c.UserContext()
	defer c.SetUserContext(parent)

	if id, ok := f.identify(parent, c); ok {
		c.SetUserContext(ContextWithIdentity(parent, id))
	}
	return c.Next()
}

func (f *Filter) identify(ctx context.Context, c *fiber.Ctx) (id Identity, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("auth filter failure", zap.Any("panic", r), zap.String("path", c.Path()))
			id, ok = Identity{}, false
		}
	}()

	if f.allowlist.Allows(c.Method(), c.Path()) {
		f.record(ResultPublic)
		return Identity{}, false
	}

	token, err := ExtractBearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		if errors.Is(err, errMissingToken) {
			f.record(ResultAnonymous)
		} else {
			f.logger.Debug("rejecting authorization header", zap.Error(err), zap.String("path", c.Path()))
			f.record(ResultMalformed)
		}
		return Identity{}, false
	}

	id, err = f.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			f.record(ResultExpired)
		} else {
			f.record(ResultInvalid)
		}
		f.logger.Debug("rejecting bearer token", zap.Error(err), zap.String("path", c.Path()))
		return Identity{}, false
	}

	if f.revoked != nil {
		revoked, err := f.revoked.IsRevoked(ctx, id.TokenID)
		switch {
		case err != nil:
			f.logger.Warn("revocation lookup failed; accepting token", zap.Error(err), zap.String("subject_id", id.SubjectID))
		case revoked:
			f.record(ResultRevoked)
			return Identity{}, false
		}
	}

	f.record(ResultAuthenticated)
	return id, true
}

func (f *Filter) record(result string) {
	if f.recorder != nil {
		f.recorder.RecordAuthResult(result)
	}
}

// ExtractBearerToken parses an "Authorization: Bearer <token>" header value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", errMalformedToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", errMalformedToken
	}
	return token, nil
}
