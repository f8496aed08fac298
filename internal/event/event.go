package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeTokenIssued          Type = "token.issued"
	TypeTokenRotated         Type = "token.rotated"
	TypeRefreshRejected      Type = "token.refresh_rejected"
	TypeTokenReuseDetected   Type = "token.reuse_detected"
	TypeOriginMismatch       Type = "auth.origin_mismatch"
	TypeSessionLogout        Type = "session.logout"
	TypeSubjectTokensRevoked Type = "session.revoked"
)

// Security reports whether events of this type need operator attention.
func (t Type) Security() bool {
	switch t {
	case TypeRefreshRejected, TypeTokenReuseDetected, TypeOriginMismatch, TypeSubjectTokensRevoked:
		return true
	default:
		return false
	}
}

// AuthPayload never carries token values; TokenID is the jti claim.
type AuthPayload struct {
	SubjectID string `json:"subject_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	TokenID   string `json:"token_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Count     int64  `json:"count,omitempty"`
}

type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Payload   AuthPayload `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

func New(t Type, payload AuthPayload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
