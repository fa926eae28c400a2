package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/orca-live/orcad/internal/canonical"
	"github.com/orca-live/orcad/internal/planner"
	"github.com/orca-live/orcad/internal/store"
)

// WorkflowStep describes one persisted child job of a workflow.
type WorkflowStep struct {
	Step     int    `json:"step"`
	SubjobID string `json:"subjob_id"`
	AgentID  string `json:"agent_id"`
}

// CreateWorkflowResult is returned by CreateWorkflow. Existing is true when
// an identical workflow was already on record and nothing was written.
type CreateWorkflowResult struct {
	WorkflowID string         `json:"workflow_id"`
	Steps      []WorkflowStep `json:"steps"`
	Existing   bool           `json:"existing,omitempty"`
}

type childInput struct {
	Step    int    `json:"step"`
	AgentID string `json:"agent_id"`
}

// CreateWorkflow persists a plan as one parent job plus one child job per
// step, all in state prepared. Creation is idempotent on the canonical hash
// of {caller, plan}: resubmitting the same plan from the same requester
// returns the existing workflow id, including when two submissions race.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, requesterAddr string, plan planner.Plan) (CreateWorkflowResult, error) {
	if len(plan.Steps) == 0 {
		return CreateWorkflowResult{}, fmt.Errorf("%w: plan must contain at least one step", ErrInvalidPlan)
	}
	for i, step := range plan.Steps {
		if step.AgentID == "" {
			return CreateWorkflowResult{}, fmt.Errorf("%w: step %d has no agent_id", ErrInvalidPlan, i+1)
		}
	}

	planHash, err := canonical.Hash(struct {
		Caller string       `json:"caller"`
		Plan   planner.Plan `json:"plan"`
	}{Caller: requesterAddr, Plan: plan})
	if err != nil {
		return CreateWorkflowResult{}, fmt.Errorf("hash plan: %w", err)
	}

	if existingID, found, err := o.Store.FindWorkflowByHash(ctx, requesterAddr, planHash); err != nil {
		return CreateWorkflowResult{}, fmt.Errorf("check existing workflow: %w", err)
	} else if found {
		workflowsCreated.WithLabelValues("existing").Inc()
		return CreateWorkflowResult{WorkflowID: existingID, Steps: []WorkflowStep{}, Existing: true}, nil
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return CreateWorkflowResult{}, fmt.Errorf("encode plan: %w", err)
	}

	workflowID := uuid.New().String()
	parent := store.Job{
		JobID:         workflowID,
		RequesterAddr: requesterAddr,
		JobInput:      planJSON,
		JobInputHash:  planHash,
		State:         store.JobStatePrepared,
	}

	children := make([]store.Job, 0, len(plan.Steps))
	steps := make([]WorkflowStep, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		child, err := buildChildJob(workflowID, requesterAddr, step.Step, step.AgentID)
		if err != nil {
			return CreateWorkflowResult{}, err
		}
		children = append(children, child)
		steps = append(steps, WorkflowStep{Step: step.Step, SubjobID: child.JobID, AgentID: step.AgentID})
	}

	if err := o.Store.InsertWorkflow(ctx, parent, children); err != nil {
		if errors.Is(err, store.ErrWorkflowExists) {
			// Lost the race; the winner's workflow is the caller's workflow.
			winnerID, found, lookupErr := o.Store.FindWorkflowByHash(ctx, requesterAddr, planHash)
			if lookupErr != nil {
				return CreateWorkflowResult{}, fmt.Errorf("resolve concurrent workflow: %w", lookupErr)
			}
			if !found {
				return CreateWorkflowResult{}, fmt.Errorf("resolve concurrent workflow: winner row not visible")
			}
			workflowsCreated.WithLabelValues("existing").Inc()
			return CreateWorkflowResult{WorkflowID: winnerID, Steps: []WorkflowStep{}, Existing: true}, nil
		}
		return CreateWorkflowResult{}, fmt.Errorf("create workflow: %w", err)
	}

	workflowsCreated.WithLabelValues("created").Inc()
	return CreateWorkflowResult{WorkflowID: workflowID, Steps: steps}, nil
}

func buildChildJob(parentID, requesterAddr string, step int, agentID string) (store.Job, error) {
	input := childInput{Step: step, AgentID: agentID}
	encoded, err := json.Marshal(input)
	if err != nil {
		return store.Job{}, fmt.Errorf("encode step input: %w", err)
	}
	hash, err := canonical.Hash(input)
	if err != nil {
		return store.Job{}, fmt.Errorf("hash step input: %w", err)
	}
	return store.Job{
		JobID:         uuid.New().String(),
		ParentJobID:   parentID,
		AgentID:       agentID,
		RequesterAddr: requesterAddr,
		JobInput:      encoded,
		JobInputHash:  hash,
		State:         store.JobStatePrepared,
	}, nil
}
