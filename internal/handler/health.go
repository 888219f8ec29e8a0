package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"bank-mtls-proxy/internal/credential"
	"bank-mtls-proxy/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	store   *credential.Store
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store *credential.Store, v Version) *HealthHandler {
	return &HealthHandler{store: store, version: v}
}

type healthResponse struct {
	Status string                         `json:"status"`
	Banks  map[string]credential.Presence `json:"banks"`
}

// Health reports liveness and, per bank, whether a certificate and key are
// configured. It never decodes them, so a malformed value still reads as present.
func (h *HealthHandler) Health(c echo.Context) error {
	banks := make(map[string]credential.Presence)
	for _, b := range h.store.Banks() {
		banks[string(b)] = h.store.Presence(b)
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Banks: banks})
}

type bankStatus struct {
	ProductionHost string `json:"production_host"`
	StagingHost    string `json:"staging_host,omitempty"`
}

// Status returns the build version and the upstream hosts of each bank.
func (h *HealthHandler) Status(c echo.Context) error {
	banks := make(map[string]bankStatus)
	for _, b := range h.store.Banks() {
		var s bankStatus
		s.ProductionHost, _ = h.store.Host(b, model.EnvProduction)
		if h.store.MultiEnvironment(b) {
			s.StagingHost, _ = h.store.Host(b, model.EnvStaging)
		}
		banks[string(b)] = s
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": string(h.version),
		"banks":   banks,
	})
}
