package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orca-live/orcad/internal/store"
)

// PrepareResult reports the outcome of the legacy agent preparation call.
// When the agent demands payment, Response carries its 402 body verbatim.
type PrepareResult struct {
	State           string          `json:"state"`
	PaymentRequired bool            `json:"payment_required"`
	Response        json.RawMessage `json:"response,omitempty"`
}

// PrepareJob runs the legacy preparation handshake against the agent. An
// HTTP 402 moves the job to payment_pending; a 200 acknowledges preparation
// without a state change. This is the only path into payment_pending.
func (o *Orchestrator) PrepareJob(ctx context.Context, jobID string) (PrepareResult, error) {
	job, ok, err := o.Store.GetJobWithAgent(ctx, jobID)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("fetch job: %w", err)
	}
	if !ok {
		return PrepareResult{}, ErrJobNotFound
	}
	if job.State != store.JobStatePrepared {
		return PrepareResult{}, fmt.Errorf("%w: job %s is %s", ErrJobNotPrepared, jobID, job.State)
	}
	if job.Agent == nil {
		return PrepareResult{}, ErrAgentNotFound
	}

	baseURL, err := AgentBaseURL(job.Agent.Subdomain, o.AgentDomain)
	if err != nil {
		return PrepareResult{}, err
	}

	status, body, err := o.Client.PostJSON(ctx, baseURL+"/start_job/prepare", map[string]any{
		"job_id":    job.JobID,
		"job_input": job.JobInput,
	})
	if err != nil {
		return PrepareResult{}, fmt.Errorf("%w: %v", ErrAgentCall, err)
	}

	switch status {
	case 402:
		if err := o.Store.UpdateJobState(ctx, jobID, store.JobStatePaymentPending); err != nil {
			return PrepareResult{}, fmt.Errorf("record payment_pending: %w", err)
		}
		return PrepareResult{State: store.JobStatePaymentPending, PaymentRequired: true, Response: body}, nil
	case 200:
		return PrepareResult{State: job.State, Response: body}, nil
	default:
		return PrepareResult{}, fmt.Errorf("%w: status %d", ErrAgentCall, status)
	}
}
