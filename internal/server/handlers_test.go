package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/orca-live/orcad/internal/orchestrator"
	"github.com/orca-live/orcad/internal/planner"
	"github.com/orca-live/orcad/internal/store"
)

type stubDirectory struct {
	agents []store.Agent
	err    error
}

func (s *stubDirectory) Agents(_ context.Context) ([]store.Agent, error) {
	return s.agents, s.err
}

type stubOrch struct {
	createResult orchestrator.CreateWorkflowResult
	createErr    error
	createdAddr  string
	createdPlan  planner.Plan

	executeResult json.RawMessage
	executeErr    error

	prepareResult orchestrator.PrepareResult
	prepareErr    error
}

func (s *stubOrch) CreateWorkflow(_ context.Context, requesterAddr string, plan planner.Plan) (orchestrator.CreateWorkflowResult, error) {
	s.createdAddr = requesterAddr
	s.createdPlan = plan
	return s.createResult, s.createErr
}

func (s *stubOrch) ExecuteJob(_ context.Context, _ string) (json.RawMessage, error) {
	return s.executeResult, s.executeErr
}

func (s *stubOrch) PrepareJob(_ context.Context, _ string) (orchestrator.PrepareResult, error) {
	return s.prepareResult, s.prepareErr
}

type stubJobStore struct {
	job   store.JobWithAgent
	found bool
	err   error
}

func (s *stubJobStore) GetJobWithAgent(_ context.Context, _ string) (store.JobWithAgent, bool, error) {
	return s.job, s.found, s.err
}

func doJSON(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegistryListReturnsEmptyArrayNotNull(t *testing.T) {
	e := echo.New()
	h := &RegistryHandler{Directory: &stubDirectory{}}
	h.Register(e.Group("/api/agents"))

	rec := doJSON(t, e, http.MethodGet, "/api/agents", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"agents":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestRegistryListUpstreamFailure(t *testing.T) {
	e := echo.New()
	h := &RegistryHandler{Directory: &stubDirectory{err: errors.New("db down")}}
	h.Register(e.Group("/api/agents"))

	rec := doJSON(t, e, http.MethodGet, "/api/agents", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestPlansCreateFromAgentIDs(t *testing.T) {
	e := echo.New()
	h := &PlansHandler{Directory: &stubDirectory{agents: []store.Agent{
		{ID: "a1", Subdomain: "one", Price: 3},
		{ID: "a2", Subdomain: "two", Price: 4},
	}}}
	h.Register(e.Group("/api/plans"))

	rec := doJSON(t, e, http.MethodPost, "/api/plans", `{"agent_ids":["a2","a1"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var plan planner.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].AgentID != "a2" || plan.EstimatedCost != 7 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlansAutoRequiresIntent(t *testing.T) {
	e := echo.New()
	h := &PlansHandler{Directory: &stubDirectory{}}
	h.Register(e.Group("/api/plans"))

	rec := doJSON(t, e, http.MethodPost, "/api/plans/auto", `{"intent":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWorkflowsCreate(t *testing.T) {
	e := echo.New()
	orch := &stubOrch{createResult: orchestrator.CreateWorkflowResult{
		WorkflowID: "wf-1",
		Steps:      []orchestrator.WorkflowStep{{Step: 1, SubjobID: "job-1", AgentID: "a1"}},
	}}
	h := &WorkflowsHandler{Orch: orch}
	h.Register(e.Group("/api/workflows"))

	body := `{"caller_address":"0xcaller","plan":{"plan":[{"step":1,"agent_id":"a1","subdomain":"one","price":3}],"estimated_cost":3}}`
	rec := doJSON(t, e, http.MethodPost, "/api/workflows", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if orch.createdAddr != "0xcaller" {
		t.Fatalf("caller not forwarded: %s", orch.createdAddr)
	}
	if len(orch.createdPlan.Steps) != 1 || orch.createdPlan.Steps[0].AgentID != "a1" {
		t.Fatalf("plan not forwarded: %+v", orch.createdPlan)
	}
	if strings.Contains(rec.Body.String(), "existing_workflow") {
		t.Fatalf("fresh workflow must not carry the existing note")
	}
}

func TestWorkflowsCreateExistingNote(t *testing.T) {
	e := echo.New()
	orch := &stubOrch{createResult: orchestrator.CreateWorkflowResult{WorkflowID: "wf-1", Existing: true}}
	h := &WorkflowsHandler{Orch: orch}
	h.Register(e.Group("/api/workflows"))

	body := `{"caller_address":"0xcaller","plan":{"plan":[{"step":1,"agent_id":"a1"}]}}`
	rec := doJSON(t, e, http.MethodPost, "/api/workflows", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "existing_workflow") {
		t.Fatalf("expected existing note, got %s", rec.Body.String())
	}
}

func TestWorkflowsCreateRequiresCaller(t *testing.T) {
	e := echo.New()
	h := &WorkflowsHandler{Orch: &stubOrch{}}
	h.Register(e.Group("/api/workflows"))

	rec := doJSON(t, e, http.MethodPost, "/api/workflows", `{"plan":{"plan":[]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWorkflowsCreateInvalidPlanIs400(t *testing.T) {
	e := echo.New()
	h := &WorkflowsHandler{Orch: &stubOrch{createErr: orchestrator.ErrInvalidPlan}}
	h.Register(e.Group("/api/workflows"))

	rec := doJSON(t, e, http.MethodPost, "/api/workflows", `{"caller_address":"0xcaller","plan":{"plan":[]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestJobStatus(t *testing.T) {
	e := echo.New()
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	h := &JobsHandler{Store: &stubJobStore{
		found: true,
		job: store.JobWithAgent{Job: store.Job{
			JobID:         "job-1",
			AgentID:       "a1",
			RequesterAddr: "0xcaller",
			State:         store.JobStateCompleted,
			JobOutput:     json.RawMessage(`{"ok":true}`),
			CreatedAt:     now,
			UpdatedAt:     now,
		}},
	}, Orch: &stubOrch{}}
	h.Register(e.Group("/api/jobs"))

	rec := doJSON(t, e, http.MethodGet, "/api/jobs/job-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != store.JobStateCompleted || resp.CreatedAt != "2026-02-03T04:05:06Z" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	e := echo.New()
	h := &JobsHandler{Store: &stubJobStore{}, Orch: &stubOrch{}}
	h.Register(e.Group("/api/jobs"))

	rec := doJSON(t, e, http.MethodGet, "/api/jobs/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobExecuteErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", orchestrator.ErrJobNotFound, http.StatusNotFound},
		{"agent missing", orchestrator.ErrAgentNotFound, http.StatusNotFound},
		{"not prepared", orchestrator.ErrJobNotPrepared, http.StatusConflict},
		{"empty subdomain", orchestrator.ErrEmptySubdomain, http.StatusBadRequest},
		{"agent call", orchestrator.ErrAgentCall, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			h := &JobsHandler{Store: &stubJobStore{}, Orch: &stubOrch{executeErr: tc.err}}
			h.Register(e.Group("/api/jobs"))

			rec := doJSON(t, e, http.MethodPost, "/api/jobs/job-1/execute", "")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestJobPreparePassesThroughPaymentBody(t *testing.T) {
	e := echo.New()
	h := &JobsHandler{Store: &stubJobStore{}, Orch: &stubOrch{prepareResult: orchestrator.PrepareResult{
		State:           store.JobStatePaymentPending,
		PaymentRequired: true,
		Response:        json.RawMessage(`{"pay_to":"0xvault"}`),
	}}}
	h.Register(e.Group("/api/jobs"))

	rec := doJSON(t, e, http.MethodPost, "/api/jobs/job-1/prepare", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pay_to":"0xvault"`) {
		t.Fatalf("402 body not passed through: %s", rec.Body.String())
	}
}
