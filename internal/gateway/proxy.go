package gateway

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"go.uber.org/zap"

	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/observability"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// Headers set by the gateway for downstream services. Values supplied by the
// client are always dropped.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Proxy forwards requests that passed the auth filter to their upstream.
type Proxy struct {
	routes  *RouteTable
	timeout time.Duration
	logger  *zap.Logger
}

// NewProxy builds a proxy. A non-positive timeout means 30 seconds.
func NewProxy(routes *RouteTable, timeout time.Duration, logger *zap.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{routes: routes, timeout: timeout, logger: logger}
}

// Handle is the catch-all fiber handler.
func (p *Proxy) Handle(c *fiber.Ctx) error {
	route, ok := p.routes.Match(c.Path())
	if !ok {
		return apperrors.NewNotFound("route", map[string]any{"path": c.Path()})
	}

	header := &c.Request().Header
	header.Del(HeaderUserID)
	header.Del(HeaderUserRole)
	if id, ok := auth.IdentityFromContext(c.UserContext()); ok {
		header.Set(HeaderUserID, id.SubjectID)
		header.Set(HeaderUserRole, string(id.Role))
	}
	if requestID := observability.RequestID(c); requestID != "" {
		header.Set(observability.HeaderRequestID, requestID)
	}
	header.Set(fiber.HeaderXForwardedFor, c.IP())

	target := route.Upstream.String() + c.OriginalURL()
	if err := proxy.DoTimeout(c, target, p.timeout); err != nil {
		p.logger.Warn("upstream request failed",
			zap.String("upstream", route.Upstream.Host),
			zap.String("path", c.Path()),
			zap.Error(err))
		if isTimeout(err) {
			return apperrors.FromStatus(fiber.StatusGatewayTimeout, "upstream timed out")
		}
		return apperrors.FromStatus(fiber.StatusBadGateway, "upstream unavailable")
	}
	c.Response().Header.Del(fiber.HeaderServer)
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
