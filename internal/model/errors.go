package model

import "errors"

var (
	// Token related errors
	ErrDecodeFailure                = errors.New("token malformed or signature invalid")
	ErrTokenExpired                 = errors.New("token expired")
	ErrInvalidOrExpiredRefreshToken = errors.New("invalid or expired refresh token")
	ErrTokenReuseDetected           = errors.New("refresh token reuse detected")
	ErrOriginMismatch               = errors.New("request origin does not match token origin")
	ErrCategoryMismatch             = errors.New("token category mismatch")

	// Ledger related errors
	ErrTokenNotFound  = errors.New("token not found")
	ErrDuplicateToken = errors.New("token already recorded")

	// User related errors
	ErrUserNotFound = errors.New("user not found")

	// Permission/Access related errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
