package service

import (
	"errors"

	"go-token-gate/internal/model"
)

// ReasonCode maps an authentication failure to the stable code reported to
// clients, metrics and the audit log. Reuse is checked before the generic
// refresh failure because reuse errors wrap both.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrTokenReuseDetected):
		return "TOKEN_REUSE_DETECTED"
	case errors.Is(err, model.ErrInvalidOrExpiredRefreshToken):
		return "INVALID_REFRESH_TOKEN"
	case errors.Is(err, model.ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, model.ErrDecodeFailure):
		return "INVALID_TOKEN"
	case errors.Is(err, model.ErrOriginMismatch):
		return "ORIGIN_MISMATCH"
	case errors.Is(err, model.ErrCategoryMismatch):
		return "CATEGORY_MISMATCH"
	case errors.Is(err, model.ErrUnauthenticated):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL_ERROR"
	}
}
