package reporting

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Handler exposes reports and the orchestrator health snapshot over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a reporting HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes binds report routes onto the API group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/reports/operations", h.Operations)
}

// RegisterHealth binds the unauthenticated health snapshot at the root.
func (h *Handler) RegisterHealth(e *echo.Echo) {
	e.GET("/health", h.Health)
}

// Operations handles GET /reports/operations?workflow_ids=a,b. Without the
// parameter every workflow is reported.
func (h *Handler) Operations(c echo.Context) error {
	var ids []string
	if raw := c.QueryParam("workflow_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	report, err := h.svc.Operations(c.Request().Context(), ids)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	snap := h.svc.Health(c.Request().Context())
	status := http.StatusOK
	if snap.Status != "UP" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, snap)
}
