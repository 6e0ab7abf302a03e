package http

import (
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/salesgrid/platform/internal/api/http/handlers"
	"github.com/salesgrid/platform/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Auth        *handlers.AuthHandler
	Users       *handlers.UsersHandler
	Invitations *handlers.InvitationsHandler
	Filter      *auth.Filter
	RateLimiter *RateLimiter
	Metrics     nethttp.Handler
}

// RegisterRoutes wires HTTP routes. Every route sits behind the auth filter;
// handlers of protected routes call auth.RequireIdentity themselves.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Use(cors.New())
	app.Use(cfg.Filter.Handle)

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api")

	// Only the anonymous credential endpoints are throttled.
	limited := func(h fiber.Handler) []fiber.Handler {
		if cfg.RateLimiter == nil {
			return []fiber.Handler{h}
		}
		return []fiber.Handler{cfg.RateLimiter.Handler(), h}
	}

	authGroup := api.Group("/auth")
	authGroup.Post("/send-code", limited(cfg.Auth.SendCode)...)
	authGroup.Post("/register", limited(cfg.Auth.Register)...)
	authGroup.Post("/login", limited(cfg.Auth.Login)...)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Get("/me", cfg.Auth.Me)
	authGroup.Post("/password/change", cfg.Auth.ChangePassword)
	authGroup.Post("/password/reset", limited(cfg.Auth.ResetPassword)...)

	users := api.Group("/users")
	users.Post("/", cfg.Users.CreateSubordinate)
	users.Get("/subordinates", cfg.Users.ListSubordinates)
	users.Get("/:id", cfg.Users.Get)
	users.Patch("/:id/status", cfg.Users.UpdateStatus)

	codes := api.Group("/invitation-codes")
	codes.Post("/", cfg.Invitations.Create)
	codes.Get("/", cfg.Invitations.List)
	codes.Get("/roles", cfg.Invitations.CreatableRoles)
	codes.Post("/:code/deactivate", cfg.Invitations.Deactivate)
}
