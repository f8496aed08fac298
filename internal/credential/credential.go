// Package credential moves token pairs between HTTP requests/responses and
// the two named credential slots.
package credential

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go-token-gate/internal/model"
)

const (
	AccessCookie  = "Authorization"
	RefreshCookie = "Refresh-Token"
	RefreshHeader = "X-Refresh-Token"
)

// Policy fixes the cookie attributes for both slots.
type Policy struct {
	Domain     string
	Path       string
	Secure     bool
	SameSite   http.SameSite
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Read returns the credentials presented on r. Cookies take precedence over
// the Authorization bearer header and the refresh header.
func (p Policy) Read(r *http.Request) model.Credentials {
	var creds model.Credentials

	if c, err := r.Cookie(AccessCookie); err == nil {
		creds.Access = strings.TrimSpace(c.Value)
	}
	if creds.Access == "" {
		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(authHeader) > len("Bearer ") && strings.EqualFold(authHeader[:len("Bearer ")], "Bearer ") {
			creds.Access = strings.TrimSpace(authHeader[len("Bearer "):])
		}
	}

	if c, err := r.Cookie(RefreshCookie); err == nil {
		creds.Refresh = strings.TrimSpace(c.Value)
	}
	if creds.Refresh == "" {
		creds.Refresh = strings.TrimSpace(r.Header.Get(RefreshHeader))
	}

	return creds
}

// Write sets both slots, each living as long as its token.
func (p Policy) Write(w http.ResponseWriter, pair model.TokenPair) {
	http.SetCookie(w, p.cookie(AccessCookie, pair.AccessToken, int(p.AccessTTL.Seconds())))
	http.SetCookie(w, p.cookie(RefreshCookie, pair.RefreshToken, int(p.RefreshTTL.Seconds())))
}

// Clear instructs the client to drop both slots immediately.
func (p Policy) Clear(w http.ResponseWriter) {
	http.SetCookie(w, p.cookie(AccessCookie, "", -1))
	http.SetCookie(w, p.cookie(RefreshCookie, "", -1))
}

func (p Policy) cookie(name string, value string, maxAge int) *http.Cookie {
	path := p.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   p.Domain,
		MaxAge:   maxAge,
		Secure:   p.Secure,
		HttpOnly: true,
		SameSite: p.SameSite,
	}
}

func ParseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("unsupported same-site mode %q", value)
	}
}
