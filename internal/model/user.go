package model

import "time"

// DefaultRole is assigned to subjects the first time they log in.
const DefaultRole = "USER"

type User struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderProfile is the verified result of a third-party login handed over
// by the identity-provider integration. Subject and display name are both
// embedded in every token, so their limits are counted in encoded JSON bytes.
type ProviderProfile struct {
	Provider          string `json:"provider" validate:"required,oneof=google naver"`
	ProviderSubjectID string `json:"provider_subject_id" validate:"required,jsonmax=64"`
	Email             string `json:"email" validate:"omitempty,email"`
	DisplayName       string `json:"display_name" validate:"jsonmax=48"`
}

// SubjectID returns the stable, provider-qualified subject identifier.
func (p ProviderProfile) SubjectID() string {
	return p.Provider + ":" + p.ProviderSubjectID
}

// Identity is the authenticated principal bound to a single request.
type Identity struct {
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	TokenID   string `json:"-"`
}
