package model

import "time"

// AuditEntry is a persisted authentication event. It never holds token values.
type AuditEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SubjectID  string    `json:"subject_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Count      int64     `json:"count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AuditQuery struct {
	Type      string
	SubjectID string
	Page      int
	Limit     int
}

type AuditPage struct {
	Items      []AuditEntry `json:"items"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	Total      int          `json:"total"`
	TotalPages int          `json:"total_pages"`
}
