package repository

import (
	"context"
	"fmt"
	"strings"

	"go-token-gate/internal/model"
)

type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth_event (id, type, subject_id, ip, token_id, reason, count, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Type, entry.SubjectID, entry.IP, entry.TokenID, entry.Reason, entry.Count, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("log auth event: %w", err)
	}
	return nil
}

// Query returns one page of events, newest first.
func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) (model.AuditPage, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if eventType := strings.TrimSpace(query.Type); eventType != "" {
		where = append(where, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, eventType)
		argIdx++
	}
	if subjectID := strings.TrimSpace(query.SubjectID); subjectID != "" {
		where = append(where, fmt.Sprintf("subject_id = $%d", argIdx))
		args = append(args, subjectID)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM auth_event %s", whereClause), args...).Scan(&total); err != nil {
		return model.AuditPage{}, fmt.Errorf("count auth events: %w", err)
	}

	page := model.AuditPage{Items: []model.AuditEntry{}, Page: query.Page, Limit: query.Limit, Total: total}
	if total > 0 {
		page.TotalPages = (total + query.Limit - 1) / query.Limit
	}

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT id, type, subject_id, ip, token_id, reason, count, occurred_at
		 FROM auth_event %s
		 ORDER BY occurred_at DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, query.Limit, offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return model.AuditPage{}, fmt.Errorf("query auth events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.SubjectID, &e.IP, &e.TokenID, &e.Reason, &e.Count, &e.OccurredAt); err != nil {
			return model.AuditPage{}, fmt.Errorf("scan auth event: %w", err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		page.Items = append(page.Items, e)
	}

	return page, rows.Err()
}
