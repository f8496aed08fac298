package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"go-token-gate/internal/middleware"
	"go-token-gate/internal/model"
	"go-token-gate/pkg/apierror"
)

type roleUpdater interface {
	UpdateRole(ctx context.Context, subjectID string, role string) error
}

// UserHandler serves the administrative user endpoints. Role changes take
// effect for a subject at its next token rotation.
type UserHandler struct {
	users    roleUpdater
	validate *validator.Validate
}

func NewUserHandler(users roleUpdater) *UserHandler {
	return &UserHandler{users: users, validate: validator.New()}
}

func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	subjectID := chi.URLParam(r, "subjectID")
	if subjectID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "subject id is required", "subjectID", http.StatusBadRequest))
		return
	}

	var payload model.UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.Wrap(err, "BAD_REQUEST", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		writeError(w, fmt.Errorf("%w: %v", model.ErrInvalidInput, err))
		return
	}

	if err := h.users.UpdateRole(r.Context(), subjectID, payload.Role); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"subject_id": subjectID, "role": payload.Role})
}

// Ping is a trivial endpoint gated on the ADMIN role.
func (h *UserHandler) Ping(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())
	subjectID := ""
	if identity != nil {
		subjectID = identity.SubjectID
	}
	writeSuccess(w, http.StatusOK, map[string]any{"pong": true, "subject_id": subjectID})
}
