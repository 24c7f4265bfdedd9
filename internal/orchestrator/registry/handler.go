package registry

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the service catalog over HTTP. Registration is
// code-level at startup, so the surface is read-only.
type Handler struct {
	reg *Registry
}

// NewHandler creates a service catalog HTTP handler.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// RegisterRoutes binds catalog routes onto the API group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/services", h.List)
	g.GET("/services/:id", h.Get)
	g.GET("/services/:id/health", h.Health)
}

// List handles GET /services.
func (h *Handler) List(c echo.Context) error {
	entries := h.reg.List()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  entries,
		"total": len(entries),
	})
}

// Get handles GET /services/:id.
func (h *Handler) Get(c echo.Context) error {
	e, ok := h.reg.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "service not found")
	}
	return c.JSON(http.StatusOK, e)
}

// Health handles GET /services/:id/health.
func (h *Handler) Health(c echo.Context) error {
	rec, ok := h.reg.Health(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "service not found")
	}
	return c.JSON(http.StatusOK, rec)
}
