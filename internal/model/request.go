package model

type ReissueResponse struct {
	Reissued  bool   `json:"reissued"`
	ExpiresIn int64  `json:"expires_in"`
	TokenType string `json:"token_type"`
}

type ProviderLoginResponse struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
	ExpiresIn int64  `json:"expires_in"`
}

type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER ADMIN"`
}

type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
