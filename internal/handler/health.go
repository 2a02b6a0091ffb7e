package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"dnb-proxy/internal/config"
	"dnb-proxy/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	relay   *service.RelayService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, relay *service.RelayService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, relay: relay, version: v}
}

// Healthz returns a simple OK response for liveness probes. It never touches the upstream.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns relay status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.relay.Target(),
		"timeout":      h.cfg.Upstream.Timeout().String(),
		"listen_addr":  h.cfg.Server.Addr(),
	})
}
