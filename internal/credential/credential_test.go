package credential

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-token-gate/internal/model"
)

func testPolicy() Policy {
	return Policy{
		Domain:     "example.com",
		Path:       "/",
		Secure:     true,
		SameSite:   http.SameSiteStrictMode,
		AccessTTL:  10 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

func TestPolicy_Read(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  model.Credentials
	}{
		{
			name:  "empty",
			setup: func(r *http.Request) {},
			want:  model.Credentials{},
		},
		{
			name: "cookies",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "acc"})
				r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: "ref"})
			},
			want: model.Credentials{Access: "acc", Refresh: "ref"},
		},
		{
			name: "headers",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer acc")
				r.Header.Set(RefreshHeader, "ref")
			},
			want: model.Credentials{Access: "acc", Refresh: "ref"},
		},
		{
			name: "cookie wins over header",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: AccessCookie, Value: "cookie-acc"})
				r.Header.Set("Authorization", "Bearer header-acc")
			},
			want: model.Credentials{Access: "cookie-acc"},
		},
		{
			name: "non bearer scheme ignored",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			want: model.Credentials{},
		},
		{
			name: "lowercase bearer accepted",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer acc")
			},
			want: model.Credentials{Access: "acc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, p.Read(r))
		})
	}
}

func TestPolicy_WriteAndClear(t *testing.T) {
	t.Parallel()
	p := testPolicy()

	rec := httptest.NewRecorder()
	p.Write(rec, model.TokenPair{AccessToken: "acc", RefreshToken: "ref"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}
	access := byName[AccessCookie]
	require.NotNil(t, access)
	assert.Equal(t, "acc", access.Value)
	assert.Equal(t, 600, access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, "example.com", access.Domain)

	refresh := byName[RefreshCookie]
	require.NotNil(t, refresh)
	assert.Equal(t, "ref", refresh.Value)
	assert.Equal(t, 604800, refresh.MaxAge)

	rec = httptest.NewRecorder()
	p.Clear(rec)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 2)
	for _, c := range cleared {
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}
	assert.Contains(t, rec.Header().Values("Set-Cookie")[0], "Max-Age=0")
}

func TestParseSameSite(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]http.SameSite{
		"":       http.SameSiteStrictMode,
		"strict": http.SameSiteStrictMode,
		"Lax":    http.SameSiteLaxMode,
		"none":   http.SameSiteNoneMode,
	} {
		got, err := ParseSameSite(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseSameSite("sometimes")
	assert.Error(t, err)
}
