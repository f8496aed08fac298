package service

import (
	"context"
	"errors"
	"log/slog"

	"go-token-gate/internal/model"
)

type UserFinder interface {
	FindBySubjectID(ctx context.Context, subjectID string) (model.User, error)
}

// RoleResolver looks up the current role of a subject at rotation time, so
// role changes take effect on the next rotation rather than at next login.
type RoleResolver struct {
	users UserFinder
}

func NewRoleResolver(users UserFinder) *RoleResolver {
	return &RoleResolver{users: users}
}

// Resolve returns the stored role for subjectID, or fallback when the
// subject is unknown or the lookup fails.
func (r *RoleResolver) Resolve(ctx context.Context, subjectID string, fallback string) string {
	if r == nil || r.users == nil {
		return fallback
	}

	user, err := r.users.FindBySubjectID(ctx, subjectID)
	switch {
	case err == nil && user.Role != "":
		return user.Role
	case err == nil, errors.Is(err, model.ErrUserNotFound):
		return fallback
	default:
		slog.WarnContext(ctx, "role lookup failed; using role from token", "subject_id", subjectID, "error", err)
		return fallback
	}
}
