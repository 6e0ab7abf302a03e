package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/salesgrid/platform/internal/api/dto"
	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/clock"
	"github.com/salesgrid/platform/internal/domain"
	"github.com/salesgrid/platform/internal/service"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// InvitationsHandler exposes invitation code management.
type InvitationsHandler struct {
	invitations *service.InvitationService
	clock       clock.Clock
}

// NewInvitationsHandler constructs handler.
func NewInvitationsHandler(invitations *service.InvitationService, clk clock.Clock) *InvitationsHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &InvitationsHandler{invitations: invitations, clock: clk}
}

// Create handles POST /api/invitation-codes.
func (h *InvitationsHandler) Create(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	var req dto.CreateInvitationCodeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	role, ok := domain.ParseRole(req.TargetRole)
	if !ok {
		return apperrors.NewValidationError("unknown target role", map[string]any{"target_role": req.TargetRole})
	}

	code, err := h.invitations.CreateCode(c.UserContext(), id, service.CreateCodeInput{
		TargetRole: role,
		MaxUsage:   req.MaxUsage,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return data(c, http.StatusCreated, dto.NewInvitationCodeResponse(code, h.clock.Now()))
}

// List handles GET /api/invitation-codes.
func (h *InvitationsHandler) List(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	codes, err := h.invitations.ListCodes(c.UserContext(), id)
	if err != nil {
		return err
	}
	now := h.clock.Now()
	out := make([]dto.InvitationCodeResponse, 0, len(codes))
	for i := range codes {
		out = append(out, dto.NewInvitationCodeResponse(&codes[i], now))
	}
	return data(c, http.StatusOK, out)
}

// Deactivate handles POST /api/invitation-codes/:code/deactivate.
func (h *InvitationsHandler) Deactivate(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	code, err := h.invitations.Deactivate(c.UserContext(), id, c.Params("code"))
	if err != nil {
		return err
	}
	return data(c, http.StatusOK, dto.NewInvitationCodeResponse(code, h.clock.Now()))
}

// CreatableRoles handles GET /api/invitation-codes/roles.
func (h *InvitationsHandler) CreatableRoles(c *fiber.Ctx) error {
	id, err := auth.RequireIdentity(c.UserContext())
	if err != nil {
		return err
	}
	roles := auth.CreatableRoles(id.Role)
	if roles == nil {
		roles = []domain.Role{}
	}
	return data(c, http.StatusOK, roles)
}
