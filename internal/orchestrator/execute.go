package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orca-live/orcad/internal/store"
)

// ExecuteJob dispatches a prepared job to its agent's execute endpoint and
// records the outcome. Only HTTP 200 completes the job; on any other status
// or a transport failure the job is left in prepared so the caller may retry
// once the agent recovers.
func (o *Orchestrator) ExecuteJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	job, ok, err := o.Store.GetJobWithAgent(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != store.JobStatePrepared {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotPrepared, jobID, job.State)
	}
	if job.Agent == nil {
		return nil, ErrAgentNotFound
	}

	baseURL, err := AgentBaseURL(job.Agent.Subdomain, o.AgentDomain)
	if err != nil {
		return nil, err
	}

	status, body, err := o.Client.PostJSON(ctx, baseURL+"/api/execute", map[string]string{
		"prompt": promptOf(job.JobInput),
	})
	if err != nil {
		jobsExecuted.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAgentCall, err)
	}
	if status != 200 {
		jobsExecuted.WithLabelValues("agent_error").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrAgentCall, status)
	}
	if !json.Valid(body) {
		jobsExecuted.WithLabelValues("agent_error").Inc()
		return nil, fmt.Errorf("%w: unparseable response body", ErrAgentCall)
	}

	if err := o.Store.UpdateJobResult(ctx, jobID, store.JobStateCompleted, body); err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	jobsExecuted.WithLabelValues("completed").Inc()
	o.Logger.Printf("job %s completed via %s", jobID, baseURL)
	return body, nil
}

// promptOf pulls the top-level prompt field out of a job input payload,
// tolerating any other shape.
func promptOf(input json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return ""
	}
	prompt, _ := m["prompt"].(string)
	return prompt
}
