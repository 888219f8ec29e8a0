package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders_Response(t *testing.T) {
	tests := []struct {
		name             string
		upstreamCache    string
		wantCacheControl string
	}{
		{"defaults to no-store", "", "no-store"},
		{"keeps relayed Cache-Control", "max-age=60", "max-age=60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			e.Use(SecurityHeaders())
			e.GET("/inter/banking/saldo", func(c echo.Context) error {
				if tt.upstreamCache != "" {
					c.Response().Header().Set("Cache-Control", tt.upstreamCache)
				}
				return c.JSONBlob(http.StatusOK, []byte(`{"disponivel":100.5}`))
			})

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inter/banking/saldo", http.NoBody))

			want := map[string]string{
				"X-Content-Type-Options": "nosniff",
				"X-Frame-Options":        "DENY",
				"Cache-Control":          tt.wantCacheControl,
			}
			for k, v := range want {
				if got := rec.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}
}

func TestSecurityHeaders_StripsHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())

	seen := make(http.Header)
	e.GET("/inter/proxy/*", func(c echo.Context) error {
		seen = c.Request().Header.Clone()
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/inter/proxy/banking/v2/saldo", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Upgrade", "h2c")
	req.Header.Set("Authorization", "Bearer tok")
	e.ServeHTTP(httptest.NewRecorder(), req)

	for _, h := range []string{"Connection", "Proxy-Authorization", "Upgrade"} {
		if v := seen.Get(h); v != "" {
			t.Errorf("%s should be stripped, got %q", h, v)
		}
	}
	if v := seen.Get("Authorization"); v != "Bearer tok" {
		t.Errorf("Authorization = %q, want it kept", v)
	}
}
