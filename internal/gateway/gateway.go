package gateway

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/salesgrid/platform/internal/api/http/handlers"
	"github.com/salesgrid/platform/internal/auth"
)

// RouteConfig groups what the gateway serves itself and what it forwards.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Filter  *auth.Filter
	Proxy   *Proxy
	Metrics nethttp.Handler
}

// RegisterRoutes serves health and metrics locally and proxies everything else.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Use(cors.New())
	app.Use(cfg.Filter.Handle)

	if cfg.Health != nil {
		app.Get("/health/live", cfg.Health.Live)
		app.Get("/health/ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.All("/*", cfg.Proxy.Handle)
}
