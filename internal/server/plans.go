package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/orca-live/orcad/internal/planner"
)

// PlansHandler builds candidate plans; nothing here is persisted.
type PlansHandler struct {
	Directory agentDirectory
	Confirmer planner.Confirmer
	Logger    *log.Logger
}

func (h *PlansHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.POST("/auto", h.auto)
}

type createPlanRequest struct {
	AgentIDs []string `json:"agent_ids"`
}

type planWorkflowRequest struct {
	Intent string `json:"intent"`
}

func (h *PlansHandler) create(c echo.Context) error {
	var req createPlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	agents, err := h.Directory.Agents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, planner.FromAgentIDs(agents, req.AgentIDs))
}

func (h *PlansHandler) auto(c echo.Context) error {
	var req planWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Intent) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent is required")
	}
	agents, err := h.Directory.Agents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	plan := planner.FromIntent(c.Request().Context(), agents, req.Intent, h.Confirmer, h.Logger)
	return c.JSON(http.StatusOK, plan)
}
