package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/orca-live/orcad/internal/orchestrator"
	"github.com/orca-live/orcad/internal/planner"
)

type workflowCreator interface {
	CreateWorkflow(ctx context.Context, requesterAddr string, plan planner.Plan) (orchestrator.CreateWorkflowResult, error)
}

// WorkflowsHandler persists plans as durable workflows.
type WorkflowsHandler struct {
	Orch workflowCreator
}

func (h *WorkflowsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
}

type createWorkflowRequest struct {
	CallerAddress string       `json:"caller_address"`
	Plan          planner.Plan `json:"plan"`
}

type createWorkflowResponse struct {
	WorkflowID string                      `json:"workflow_id"`
	Steps      []orchestrator.WorkflowStep `json:"steps"`
	Note       string                      `json:"note,omitempty"`
}

func (h *WorkflowsHandler) create(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.CallerAddress) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "caller_address is required")
	}

	result, err := h.Orch.CreateWorkflow(c.Request().Context(), req.CallerAddress, req.Plan)
	if err != nil {
		return httpError(err)
	}

	resp := createWorkflowResponse{WorkflowID: result.WorkflowID, Steps: result.Steps}
	if result.Existing {
		resp.Note = "existing_workflow"
	}
	return c.JSON(http.StatusOK, resp)
}
