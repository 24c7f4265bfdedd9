package workflow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/orchestrator/pkg/pagination"
)

// Handler exposes workflow definition management over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a workflow HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes binds workflow routes onto the API group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows", h.Create)
	g.GET("/workflows", h.List)
	g.GET("/workflows/:id", h.Get)
	g.POST("/workflows/:id/status", h.SetStatus)
}

// Create handles POST /workflows.
func (h *Handler) Create(c echo.Context) error {
	var w Workflow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &w); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":      "validation failed",
				"violations": verr.Violations,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, &w)
}

// List handles GET /workflows.
func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)

	items, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

// Get handles GET /workflows/:id.
func (h *Handler) Get(c echo.Context) error {
	w, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}

type statusRequest struct {
	Status Status `json:"status"`
}

// SetStatus handles POST /workflows/:id/status.
func (h *Handler) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch req.Status {
	case StatusActive, StatusInactive, StatusPaused, StatusMaintenance:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be one of active, inactive, paused, maintenance")
	}
	w, err := h.svc.SetStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, w)
}
