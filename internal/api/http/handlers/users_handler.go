package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/salesgrid/platform/internal/api/dto"
	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/service"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// UsersHandler exposes hierarchy-scoped user endpoints.
type UsersHandler struct {
	auth  *service.AuthService
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService, userService *service.UserService) *UsersHandler {
	return &UsersHandler{auth: authService, users: userService}
}

// CreateSubordinate handles POST /api/users.
func (h *UsersHandler) CreateSubordinate(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	var req dto.CreateSubordinateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		return apperrors.NewValidationError("unknown role", map[string]any{"role": req.Role})
	}

	user, err := h.auth.CreateSubordinate(c.UserContext(), id, service.CreateSubordinateInput{
		Phone:    req.Phone,
		Role:     role,
		Password: req.Password,
		Nickname: req.Nickname,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewUserResponse(user))
}

// ListSubordinates handles GET /api/users/subordinates.
func (h *UsersHandler) ListSubordinates(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	users, err := h.users.ListSubordinates(c.UserContext(), id)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserListResponse(users))
}

// Get handles GET /api/users/:id.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	user, err := h.users.Get(c.UserContext(), id, c.Params("id"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user))
}

// UpdateStatus handles PATCH /api/users/:id/status.
func (h *UsersHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.users.SetStatus(c.UserContext(), id, c.Params("id"), domain.UserStatus(req.Status))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user))
}
