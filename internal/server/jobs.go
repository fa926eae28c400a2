package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/orca-live/orcad/internal/orchestrator"
	"github.com/orca-live/orcad/internal/store"
)

type jobFetcher interface {
	GetJobWithAgent(ctx context.Context, jobID string) (store.JobWithAgent, bool, error)
}

type jobRunner interface {
	ExecuteJob(ctx context.Context, jobID string) (json.RawMessage, error)
	PrepareJob(ctx context.Context, jobID string) (orchestrator.PrepareResult, error)
}

// JobsHandler exposes job status and the execute/prepare transitions.
type JobsHandler struct {
	Store jobFetcher
	Orch  jobRunner
}

func (h *JobsHandler) Register(g *echo.Group) {
	g.GET("/:id", h.status)
	g.POST("/:id/execute", h.execute)
	g.POST("/:id/prepare", h.prepare)
}

type jobStatusResponse struct {
	JobID         string          `json:"job_id"`
	State         string          `json:"state"`
	RequesterAddr string          `json:"requester_addr"`
	AgentID       string          `json:"agent_id,omitempty"`
	JobOutput     json.RawMessage `json:"job_output,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

func (h *JobsHandler) status(c echo.Context) error {
	job, ok, err := h.Store.GetJobWithAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, jobStatusResponse{
		JobID:         job.JobID,
		State:         job.State,
		RequesterAddr: job.RequesterAddr,
		AgentID:       job.AgentID,
		JobOutput:     job.JobOutput,
		CreatedAt:     job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *JobsHandler) execute(c echo.Context) error {
	result, err := h.Orch.ExecuteJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": store.JobStateCompleted,
		"result": result,
	})
}

func (h *JobsHandler) prepare(c echo.Context) error {
	result, err := h.Orch.PrepareJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// httpError maps orchestrator sentinels onto HTTP status codes; everything
// else is treated as an upstream failure.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound), errors.Is(err, orchestrator.ErrAgentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrJobNotPrepared):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidPlan), errors.Is(err, orchestrator.ErrEmptySubdomain):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrAgentCall):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
