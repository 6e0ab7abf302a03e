package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/salesgrid/platform/internal/api/dto"
	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/service"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// AuthHandler exposes registration, sign-in and token endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// SendCode handles POST /api/auth/send-code.
func (h *AuthHandler) SendCode(c *fiber.Ctx) error {
	var req dto.SendCodeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	expiresAt, err := h.auth.SendVerificationCode(c.UserContext(), req.Phone)
	if err != nil {
		return err
	}
	return data(c, http.StatusAccepted, dto.SendCodeResponse{ExpiresAt: expiresAt})
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := required(map[string]string{"phone": req.Phone, "code": req.Code, "password": req.Password}); err != nil {
		return err
	}

	user, pair, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Phone:      req.Phone,
		Code:       req.Code,
		Password:   req.Password,
		InviteCode: req.InviteCode,
		Nickname:   req.Nickname,
		IPAddress:  c.IP(),
		UserAgent:  c.Get(fiber.HeaderUserAgent),
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, fiber.Map{
		"user": dto.NewUserResponse(user),
		"auth": dto.NewAuthResponse(pair),
	})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := required(map[string]string{"phone": req.Phone, "password": req.Password}); err != nil {
		return err
	}

	user, pair, err := h.auth.Login(c.UserContext(), req.Phone, req.Password)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, fiber.Map{
		"user": dto.NewUserResponse(user),
		"auth": dto.NewAuthResponse(pair),
	})
}

// Refresh handles POST /api/auth/refresh. The token comes from the bearer
// header or, failing that, the body; an expired token is still accepted here
// so the caller gets TOKEN_EXPIRED rather than UNAUTHENTICATED.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	token, err := auth.ExtractBearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		var req dto.RefreshRequest
		if len(c.Body()) > 0 {
			if err := parseBody(c, &req); err != nil {
				return err
			}
		}
		if req.Token == "" {
			return apperrors.ErrUnauthenticated
		}
		token = req.Token
	}

	pair, err := h.auth.Refresh(c.UserContext(), token)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewAuthResponse(pair))
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	token, err := auth.ExtractBearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return apperrors.ErrUnauthenticated
	}
	if err := h.auth.Logout(c.UserContext(), token, id.SubjectID); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	user, err := h.auth.Profile(c.UserContext(), id)
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewUserResponse(user))
}

// ChangePassword handles POST /api/auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	var req dto.PasswordChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.auth.ChangePassword(c.UserContext(), id, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ResetPassword handles POST /api/auth/password/reset.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req dto.PasswordResetRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := required(map[string]string{"phone": req.Phone, "code": req.Code, "new_password": req.NewPassword}); err != nil {
		return err
	}
	if err := h.auth.ResetPassword(c.UserContext(), req.Phone, req.Code, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
