package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const clientIPContextKey contextKey = "client_ip"

// ClientIP resolves the observed origin address of each request once and
// stores it on the request context. Forwarding headers are honoured only
// when the service runs behind a trusted proxy; otherwise any client could
// claim the address a token is bound to.
type ClientIP struct {
	trustProxy bool
}

func NewClientIP(trustProxy bool) *ClientIP {
	return &ClientIP{trustProxy: trustProxy}
}

func (c *ClientIP) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPContextKey, c.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *ClientIP) Resolve(r *http.Request) string {
	if c.trustProxy {
		forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}

		if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		remote = host
	}
	if ip := normalizeIP(remote); ip != "" {
		return ip
	}
	if remote == "" {
		return "unknown"
	}
	return remote
}

// ClientIPFromRequest returns the address stored by ClientIP.Handler,
// falling back to the connection's remote address.
func ClientIPFromRequest(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return (&ClientIP{}).Resolve(r)
}

func normalizeIP(value string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
