package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go-token-gate/internal/model"
)

type auditQuerier interface {
	Query(ctx context.Context, query model.AuditQuery) (model.AuditPage, error)
}

type AuditHandler struct {
	audit auditQuerier
}

func NewAuditHandler(audit auditQuerier) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := h.audit.Query(r.Context(), model.AuditQuery{
		Type:      strings.TrimSpace(query.Get("type")),
		SubjectID: strings.TrimSpace(query.Get("subject_id")),
		Page:      parseIntOrDefault(query.Get("page"), 1),
		Limit:     parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, page)
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
