package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bank-mtls-proxy/internal/config"
	"bank-mtls-proxy/internal/metrics"
	"bank-mtls-proxy/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every bank
// route sits behind the shared-secret check; health and status do not.
func RegisterRoutes(e *echo.Echo, banks *BankHandlers, health *HealthHandler, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	e.GET("/health", health.Health)
	e.GET("/status", health.Status)

	auth := middleware.SharedSecret(cfg.Proxy.Secret, logger.With("component", "auth"), m)
	for _, h := range banks.handlers {
		h.Register(e.Group("/"+string(h.bank), auth))
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
