package auth

import (
	"context"

	"github.com/salesgrid/platform/internal/domain"
	apperrors "github.com/salesgrid/platform/pkg/util"
)

// CanCreate reports whether actor may create an account or invitation code
// for target: the actor must strictly outrank the target.
func CanCreate(actor, target domain.Role) bool {
	return actor.Outranks(target)
}

// CanAccess reports whether actor may read or modify data owned by a user
// holding owner. Peers cannot see each other's data.
func CanAccess(actor, owner domain.Role) bool {
	return actor.Outranks(owner)
}

// CreatableRoles lists the roles actor may create, most privileged first.
func CreatableRoles(actor domain.Role) []domain.Role {
	var out []domain.Role
	for _, r := range domain.Roles {
		if CanCreate(actor, r) {
			out = append(out, r)
		}
	}
	return out
}

// RequireIdentity returns the caller identity or an authentication failure.
func RequireIdentity(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, apperrors.ErrUnauthenticated
	}
	return id, nil
}

// RequireCreate fails with PermissionDenied unless actor may create target.
func RequireCreate(actor, target domain.Role) error {
	if !CanCreate(actor, target) {
		return apperrors.ErrPermissionDenied.WithDetails(map[string]any{
			"actor_role":  actor,
			"target_role": target,
		})
	}
	return nil
}

// RequireAccess fails with PermissionDenied unless actor may access owner's data.
func RequireAccess(actor, owner domain.Role) error {
	if !CanAccess(actor, owner) {
		return apperrors.ErrPermissionDenied
	}
	return nil
}
