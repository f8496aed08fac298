package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go-token-gate/internal/credential"
	"go-token-gate/internal/model"
	"go-token-gate/internal/service"
)

type requestAuthenticator interface {
	Authenticate(ctx context.Context, creds model.Credentials, requestIP string) service.Decision
}

type contextKey string

const identityContextKey contextKey = "identity"

type AuthMiddleware struct {
	authenticator requestAuthenticator
	credentials   credential.Policy
}

func NewAuthMiddleware(authenticator requestAuthenticator, credentials credential.Policy) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, credentials: credentials}
}

// RequireAuth binds an identity to the request or rejects it. A rotated pair
// is written back before the downstream handler runs.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := m.authenticator.Authenticate(r.Context(), m.credentials.Read(r), ClientIPFromRequest(r))

		switch decision.Outcome {
		case service.OutcomeRotated:
			m.credentials.Write(w, decision.Tokens)
		case service.OutcomeAuthenticated:
		default:
			if decision.ClearCredentials {
				m.credentials.Clear(w)
			}
			WriteRejection(w, r, decision.Reason)
			return
		}

		identity := decision.Identity
		ctx := context.WithValue(r.Context(), identityContextKey, &identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	roleSet := map[string]struct{}{}
	for _, role := range allowedRoles {
		roleSet[strings.ToUpper(strings.TrimSpace(role))] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			if _, exists := roleSet[strings.ToUpper(identity.Role)]; !exists {
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil
}

// WriteRejection writes the structured failure for an authentication error.
// Token failures are 401; anything else is an internal error and is not
// described to the client.
func WriteRejection(w http.ResponseWriter, r *http.Request, reason error) {
	if reason == nil {
		reason = model.ErrUnauthenticated
	}
	code := service.ReasonCode(reason)
	if code == "INTERNAL_ERROR" {
		slog.ErrorContext(r.Context(), "authentication failed", "error", reason, "request_id", w.Header().Get(requestIDHeader))
		writeAuthError(w, http.StatusInternalServerError, code, "Unexpected server error")
		return
	}

	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	writeAuthError(w, http.StatusUnauthorized, code, reason.Error())
}

func writeAuthError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = jsonEncode(w, model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}
