package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"dnb-proxy/internal/model"
	"dnb-proxy/internal/rates"
	"dnb-proxy/internal/service"
)

const (
	contentTypeHTML  = "text/html; charset=utf-8"
	contentTypePlain = "text/plain; charset=utf-8"
)

// RelayHandler serves the fixed upstream page and the rates parsed from it.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Relay fetches the upstream page and returns its HTML verbatim. Query
// parameters and headers from the caller are never passed on.
func (h *RelayHandler) Relay(c echo.Context) error {
	res := h.service.Fetch(c.Request().Context())
	if !res.OK() {
		return h.upstreamFailure(c, res.Failure)
	}
	return c.Blob(http.StatusOK, contentTypeHTML, res.Success.Body)
}

// Rates fetches the upstream page and returns the exchange rates found in it as JSON.
func (h *RelayHandler) Rates(c echo.Context) error {
	res := h.service.Fetch(c.Request().Context())
	if !res.OK() {
		return h.upstreamFailure(c, res.Failure)
	}

	doc, err := rates.Extract(res.Success.Body)
	if err != nil {
		h.logger.Warn("rates extraction failed", "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, doc)
}

// upstreamFailure writes the single externally visible failure shape:
// 502 with the failure described in plain text.
func (h *RelayHandler) upstreamFailure(c echo.Context, f *model.Failure) error {
	h.logger.Warn("upstream fetch failed",
		"err", f.Message,
		"path", c.Request().URL.Path,
	)
	return c.Blob(http.StatusBadGateway, contentTypePlain, []byte(f.Message))
}
