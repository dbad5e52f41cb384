package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/wagate/internal/healthcheck"
)

type PingHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewPingHandler(log *slog.Logger, checkers ...healthcheck.Checker) *PingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PingHandler{logger: log.With(slog.String("handler", "ping")), checkers: checkers}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health runs every readiness check and reports 503 when one fails.
func (h *PingHandler) Health(c echo.Context) error {
	report := h.run(c)
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (h *PingHandler) HealthHead(c echo.Context) error {
	if !h.run(c).Healthy() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func (h *PingHandler) run(c echo.Context) healthcheck.Report {
	report := healthcheck.Run(c.Request().Context(), healthcheck.DefaultTimeout, h.checkers...)
	if !report.Healthy() {
		h.logger.Warn("health check failed", slog.Any("checks", report.Checks))
	}
	return report
}
