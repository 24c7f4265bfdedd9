package execution

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/orchestrator/internal/orchestrator/workflow"
)

// Handler exposes execution submission and inspection over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates an execution HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes binds execution routes onto the API group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows/:id/execute", h.Execute)
	g.GET("/executions", h.List)
	g.GET("/executions/:id", h.Get)
	g.POST("/executions/:id/cancel", h.Cancel)
}

// Execute handles POST /workflows/:id/execute. Submission is asynchronous:
// the response is the pending execution record.
func (h *Handler) Execute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	exec, err := h.svc.Execute(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		case errors.Is(err, ErrQueueFull):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		default:
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
	}
	return c.JSON(http.StatusAccepted, exec)
}

// List handles GET /executions?workflow_id=.
func (h *Handler) List(c echo.Context) error {
	workflowID := c.QueryParam("workflow_id")
	if workflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id query parameter is required")
	}
	items, err := h.svc.ListByWorkflow(c.Request().Context(), workflowID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Execution{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

// Get handles GET /executions/:id.
func (h *Handler) Get(c echo.Context) error {
	exec, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exec)
}

// Cancel handles POST /executions/:id/cancel.
func (h *Handler) Cancel(c echo.Context) error {
	exec, err := h.svc.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "execution not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, exec)
}
