package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"bank-mtls-proxy/internal/metrics"
)

// HeaderProxySecret carries the shared secret on every forwarding request.
const HeaderProxySecret = "X-Proxy-Secret"

// ErrUnauthorized is returned when the shared secret is missing or wrong.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticate succeeds iff got equals want. An empty expected secret never
// matches, so a misconfigured process rejects everything.
func Authenticate(got, want string) error {
	if want == "" || got == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// SharedSecret returns an Echo middleware that rejects requests whose
// X-Proxy-Secret header does not match secret. Rejected requests never reach
// the handler. The metrics parameter is optional.
func SharedSecret(secret string, logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if err := Authenticate(req.Header.Get(HeaderProxySecret), secret); err != nil {
				if m != nil {
					m.AuthFailures.Inc()
				}
				logger.Warn("rejected request",
					"path", req.URL.Path,
					"remote_ip", c.RealIP(),
					"secret_present", req.Header.Get(HeaderProxySecret) != "",
				)
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Unauthorized",
				})
			}
			return next(c)
		}
	}
}
