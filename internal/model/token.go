package model

import "time"

// TokenPair is returned once by initial issuance and by every rotation.
// It is never persisted.
type TokenPair struct {
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// RefreshRecord is a row of the rotation ledger. Its presence means the
// refresh token has been neither rotated nor logged out.
type RefreshRecord struct {
	Token     string
	SubjectID string
	// Expiry is in epoch milliseconds.
	Expiry    int64
	BoundIP   string
	CreatedAt time.Time
}

// Expired reports whether the ledger-side expiry has passed.
func (r RefreshRecord) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.Expiry
}

// Credentials are the two values a client may present on a request.
type Credentials struct {
	Access  string
	Refresh string
}

// LogoutAck acknowledges a completed logout.
type LogoutAck struct {
	SubjectID string `json:"subject_id"`
	LoggedOut bool   `json:"logged_out"`
}
