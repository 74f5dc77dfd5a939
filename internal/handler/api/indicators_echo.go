package api

import (
	models "TaPull/internal/domain/models"
	"TaPull/internal/orchestrator"
	xhttp "TaPull/pkg/http"
	xlogger "TaPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// IndicatorsEchoHandler exposes the orchestrator over HTTP.
type IndicatorsEchoHandler struct {
	logger *xlogger.Logger
	sched  *orchestrator.Scheduler
}

func NewIndicatorsEchoHandler(logger *xlogger.Logger, sched *orchestrator.Scheduler) *IndicatorsEchoHandler {
	return &IndicatorsEchoHandler{logger: logger, sched: sched}
}

func (h *IndicatorsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/indicator", h.Indicator)
	g.GET("/indicator", h.Indicator)
	g.GET("/health", h.Health)

	admin := g.Group("/admin")
	admin.POST("/reset", h.Reset)
	admin.POST("/flush", h.Flush)
}

// Indicator enqueues a snapshot request and waits for its resolution. The
// response is always 200 with a snapshot; degraded results are tagged via
// source/is_fallback_data, never surfaced as HTTP errors.
func (h *IndicatorsEchoHandler) Indicator(c echo.Context) error {
	req := &models.IndicatorRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap := h.sched.Enqueue(c.Request().Context(), req.Symbol, req.Interval, req.Exchange)
	if snap.IsFallbackData {
		h.logger.Debug("fallback snapshot served",
			xlogger.String("symbol", snap.Symbol),
			xlogger.String("reason", snap.Reason))
	}
	return xhttp.SuccessResponse(c, snap)
}

// Health reports the orchestrator state summary.
func (h *IndicatorsEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.sched.Health())
}

// Reset is the operator escape hatch: clears breaker, rate-limit, cache and
// blacklist state and drains the queue with fallback data.
func (h *IndicatorsEchoHandler) Reset(c echo.Context) error {
	h.logger.Warn("admin reset requested", xlogger.String("remote", c.RealIP()))
	h.sched.ForceReset(c.Request().Context())
	return xhttp.SuccessResponse(c, h.sched.Health())
}

// Flush triggers an immediate drain attempt.
func (h *IndicatorsEchoHandler) Flush(c echo.Context) error {
	req := &models.FlushRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.sched.ForceFlush()
	return xhttp.AcceptedResponse(c, h.sched.Health())
}
