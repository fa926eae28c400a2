// Package orchestrator drives durable workflows over registered agents: it
// materializes plans as parent/child job rows, enforces the job state
// machine and performs the remote dispatch step.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/orca-live/orcad/internal/store"
)

// Sentinel errors; callers map these onto their transport's error shape.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotPrepared = errors.New("job is not in prepared state")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrInvalidPlan    = errors.New("invalid plan")
	ErrEmptySubdomain = errors.New("empty subdomain for agent")
	ErrAgentCall      = errors.New("agent call failed")
)

// Store is the persistence surface the orchestrator needs. *store.Store
// satisfies it; tests substitute fakes.
type Store interface {
	GetJobWithAgent(ctx context.Context, jobID string) (store.JobWithAgent, bool, error)
	FindWorkflowByHash(ctx context.Context, requesterAddr, inputHash string) (string, bool, error)
	InsertWorkflow(ctx context.Context, parent store.Job, children []store.Job) error
	InsertJobs(ctx context.Context, jobs []store.Job) error
	UpdateJobResult(ctx context.Context, jobID, state string, output json.RawMessage) error
	UpdateJobState(ctx context.Context, jobID, state string) error
	ListIncompleteWorkflows(ctx context.Context, limit int) ([]store.Job, error)
	ListWorkflowChildren(ctx context.Context, parentJobID string) ([]store.Job, error)
}

// Orchestrator holds the dependencies for workflow creation and job
// execution. All state lives in the store; the struct itself is safe for
// concurrent use.
type Orchestrator struct {
	Store       Store
	AgentDomain string
	Client      *AgentClient
	Logger      *log.Logger
}

// New wires an Orchestrator. agentDomain is the suffix used to resolve
// short agent subdomains into full base URLs.
func New(st Store, agentDomain string, client *AgentClient, logger *log.Logger) *Orchestrator {
	if client == nil {
		client = NewAgentClient(30 * time.Second)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{Store: st, AgentDomain: agentDomain, Client: client, Logger: logger}
}
