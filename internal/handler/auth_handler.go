package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go-token-gate/internal/credential"
	"go-token-gate/internal/middleware"
	"go-token-gate/internal/model"
	"go-token-gate/pkg/apierror"
)

const (
	providerSecretHeader = "X-Provider-Secret"
	maxLoginBodyBytes    = 16 << 10
)

type reissuer interface {
	Reissue(ctx context.Context, refresh string, ip string) (model.TokenPair, model.Identity, error)
}

type logouter interface {
	Logout(ctx context.Context, refresh string) (model.LogoutAck, error)
}

type loginCompleter interface {
	CompleteLogin(ctx context.Context, profile model.ProviderProfile, ip string) (model.TokenPair, model.User, error)
}

type AuthHandler struct {
	rotation      reissuer
	logout        logouter
	login         loginCompleter
	credentials   credential.Policy
	handoffSecret string
}

func NewAuthHandler(rotation reissuer, logout logouter, login loginCompleter, credentials credential.Policy, handoffSecret string) *AuthHandler {
	return &AuthHandler{
		rotation:      rotation,
		logout:        logout,
		login:         login,
		credentials:   credentials,
		handoffSecret: handoffSecret,
	}
}

// Reissue exchanges the presented refresh credential for a new pair.
func (h *AuthHandler) Reissue(w http.ResponseWriter, r *http.Request) {
	creds := h.credentials.Read(r)

	pair, _, err := h.rotation.Reissue(r.Context(), creds.Refresh, middleware.ClientIPFromRequest(r))
	if err != nil {
		middleware.WriteRejection(w, r, err)
		return
	}

	h.credentials.Write(w, pair)
	writeSuccess(w, http.StatusOK, model.ReissueResponse{
		Reissued:  true,
		ExpiresIn: int64(h.credentials.AccessTTL.Seconds()),
		TokenType: "Bearer",
	})
}

// Logout ends the session of the presented refresh credential and tells the
// client to drop both credentials.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	creds := h.credentials.Read(r)

	ack, err := h.logout.Logout(r.Context(), creds.Refresh)
	if err != nil {
		middleware.WriteRejection(w, r, err)
		return
	}

	h.credentials.Clear(w)
	writeSuccess(w, http.StatusOK, ack)
}

// ProviderLogin accepts a verified third-party login from the identity
// provider integration, which authenticates itself with a shared secret.
func (h *AuthHandler) ProviderLogin(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	presented := r.Header.Get(providerSecretHeader)
	if h.handoffSecret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.handoffSecret)) != 1 {
		writeError(w, apierror.New("UNAUTHORIZED", "invalid provider credentials", "", http.StatusUnauthorized))
		return
	}

	var profile model.ProviderProfile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBodyBytes)).Decode(&profile); err != nil {
		writeError(w, apierror.Wrap(err, "BAD_REQUEST", "invalid JSON body", http.StatusBadRequest))
		return
	}

	pair, user, err := h.login.CompleteLogin(r.Context(), profile, middleware.ClientIPFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	h.credentials.Write(w, pair)
	writeSuccess(w, http.StatusOK, model.ProviderLoginResponse{
		SubjectID: user.SubjectID,
		Role:      user.Role,
		ExpiresIn: int64(h.credentials.AccessTTL.Seconds()),
	})
}

// Me returns the identity bound to the request.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteRejection(w, r, model.ErrUnauthenticated)
		return
	}

	writeSuccess(w, http.StatusOK, identity)
}
