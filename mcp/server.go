// mcp/server.go
// Minimal MCP stdio server exposing the orchestrator tool surface.
// - All persistence is handled ONLY here (boundary).
// - Tools operate on explicit inputs and return plain JSON shapes.
//
// Start: `go run mcp/server.go`
// Clients connect via stdio JSON-RPC: "tools/list" and "tools/call".

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orca-live/orcad/config"
	"github.com/orca-live/orcad/internal/orchestrator"
	"github.com/orca-live/orcad/internal/planner"
	"github.com/orca-live/orcad/internal/registry"
	"github.com/orca-live/orcad/internal/store"
	"github.com/orca-live/orcad/provider"
)

// ---------- JSON-RPC skeleton ----------

type rpcReq struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}
type rpcResp struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   *rpcError              `json:"error,omitempty"`
}
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeResp(w io.Writer, id any, result map[string]interface{}, err error) {
	resp := rpcResp{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: errorCode(err), Message: err.Error()}
	} else {
		resp.Result = result
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(resp)
}

// errorCode maps orchestrator error kinds onto JSON-RPC error codes so
// callers can distinguish validation, not-found, conflict and upstream
// failures without parsing messages.
func errorCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidPlan), errors.Is(err, orchestrator.ErrEmptySubdomain):
		return -32602
	case errors.Is(err, orchestrator.ErrJobNotFound), errors.Is(err, orchestrator.ErrAgentNotFound):
		return -32001
	case errors.Is(err, orchestrator.ErrJobNotPrepared):
		return -32002
	case errors.Is(err, orchestrator.ErrAgentCall):
		return -32003
	default:
		return -32000
	}
}

// ---------- Tool registry ----------

// ToolDesc describes a single MCP tool, including input schema.
type ToolDesc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// MCPServer holds shared deps (the only state).
type MCPServer struct {
	Store     *store.Store
	Directory *registry.Directory
	Orch      *orchestrator.Orchestrator
	Confirmer planner.Confirmer

	Logger         *log.Logger
	DefaultTimeout time.Duration

	// cached tool descriptors
	tools []ToolDesc
}

// NewMCPServer wires dependencies once.
func NewMCPServer(cfgPath string) (*MCPServer, error) {
	cfg := config.LoadConfig(cfgPath)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	}

	logger := log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	directory := registry.NewDirectory(st, rdb, cfg.Orchestrator.RegistryCacheTTL, logger)
	client := orchestrator.NewAgentClient(cfg.Orchestrator.ExecuteTimeout)
	orch := orchestrator.New(st, cfg.Orchestrator.AgentDomain, client, logger)

	var confirmer planner.Confirmer
	if cfg.Confirm.APIKey != "" {
		pv, err := provider.NewProvider(provider.Client(cfg.Confirm.Provider), cfg.Confirm.APIKey, cfg.Confirm.Model, cfg.Confirm.Timeout)
		if err != nil {
			return nil, fmt.Errorf("confirm provider: %w", err)
		}
		confirmer = &planner.LLMConfirmer{Provider: pv}
	}

	srv := &MCPServer{
		Store:          st,
		Directory:      directory,
		Orch:           orch,
		Confirmer:      confirmer,
		Logger:         logger,
		DefaultTimeout: 60 * time.Second,
	}
	srv.initTools()
	return srv, nil
}

// initTools defines schemas and descriptions surfaced to MCP clients.
func (srv *MCPServer) initTools() {
	srv.tools = []ToolDesc{
		{
			Name:        "get_registry",
			Description: "Return the list of registered agents.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "create_plan",
			Description: "Create an execution plan from an ordered list of agent IDs.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"agent_ids"},
			},
		},
		{
			Name:        "plan_workflow",
			Description: "Score agents against a free-text intent and plan at most one step.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"intent": map[string]any{"type": "string"},
				},
				"required": []string{"intent"},
			},
		},
		{
			Name:        "create_workflow",
			Description: "Persist a plan as a durable workflow with one subjob per step. Idempotent per caller and plan.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"caller_address": map[string]any{"type": "string"},
					"plan":           map[string]any{"type": "object"},
				},
				"required": []string{"caller_address", "plan"},
			},
		},
		{
			Name:        "get_job_status",
			Description: "Fetch job status and details.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"job_id": map[string]any{"type": "string"},
				},
				"required": []string{"job_id"},
			},
		},
		{
			Name:        "execute_job",
			Description: "Execute a prepared job by calling its agent's API.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"job_id": map[string]any{"type": "string"},
				},
				"required": []string{"job_id"},
			},
		},
	}
}

// callTool dispatches to handler functions.
func (srv *MCPServer) callTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "get_registry":
		return srv.tGetRegistry(ctx)
	case "create_plan":
		return srv.tCreatePlan(ctx, args)
	case "plan_workflow":
		return srv.tPlanWorkflow(ctx, args)
	case "create_workflow":
		return srv.tCreateWorkflow(ctx, args)
	case "get_job_status":
		return srv.tGetJobStatus(ctx, args)
	case "execute_job":
		return srv.tExecuteJob(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// ---------- Tool handlers ----------

func (srv *MCPServer) tGetRegistry(ctx context.Context) (map[string]any, error) {
	agents, err := srv.Directory.Agents(ctx)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	return map[string]any{"agents": agents}, nil
}

func (srv *MCPServer) tCreatePlan(ctx context.Context, args map[string]any) (map[string]any, error) {
	ids := asStrSlice(args["agent_ids"])
	agents, err := srv.Directory.Agents(ctx)
	if err != nil {
		return nil, err
	}
	return toMap(planner.FromAgentIDs(agents, ids))
}

func (srv *MCPServer) tPlanWorkflow(ctx context.Context, args map[string]any) (map[string]any, error) {
	intent := str(args["intent"])
	if intent == "" {
		return nil, errors.New("intent is required")
	}
	agents, err := srv.Directory.Agents(ctx)
	if err != nil {
		return nil, err
	}
	return toMap(planner.FromIntent(ctx, agents, intent, srv.Confirmer, srv.Logger))
}

func (srv *MCPServer) tCreateWorkflow(ctx context.Context, args map[string]any) (map[string]any, error) {
	caller := str(args["caller_address"])
	if caller == "" {
		return nil, errors.New("caller_address is required")
	}
	rawPlan, ok := args["plan"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: plan must be an object with a 'plan' list", orchestrator.ErrInvalidPlan)
	}
	var plan planner.Plan
	if err := reencode(rawPlan, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", orchestrator.ErrInvalidPlan, err)
	}

	result, err := srv.Orch.CreateWorkflow(ctx, caller, plan)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"workflow_id": result.WorkflowID, "steps": result.Steps}
	if result.Existing {
		out["note"] = "existing_workflow"
	}
	return out, nil
}

func (srv *MCPServer) tGetJobStatus(ctx context.Context, args map[string]any) (map[string]any, error) {
	jobID := str(args["job_id"])
	if jobID == "" {
		return nil, errors.New("job_id is required")
	}
	job, ok, err := srv.Store.GetJobWithAgent(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orchestrator.ErrJobNotFound
	}
	return map[string]any{
		"job_id":         job.JobID,
		"state":          job.State,
		"requester_addr": job.RequesterAddr,
		"created_at":     job.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":     job.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (srv *MCPServer) tExecuteJob(ctx context.Context, args map[string]any) (map[string]any, error) {
	jobID := str(args["job_id"])
	if jobID == "" {
		return nil, errors.New("job_id is required")
	}
	result, err := srv.Orch.ExecuteJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": store.JobStateCompleted, "result": result}, nil
}

// ---------- helpers ----------

func str(v any) string { s, _ := v.(string); return s }

func asStrSlice(v any) []string {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// reencode round-trips an untyped JSON value into a typed struct.
func reencode(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// toMap renders a typed value as a generic result map.
func toMap(v any) (map[string]any, error) {
	var out map[string]any
	if err := reencode(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------- stdio loop ----------

// Serve runs a simple stdio JSON-RPC loop for MCP.
func (srv *MCPServer) Serve(in io.Reader, out io.Writer) error {
	rd := bufio.NewReader(in)
	dec := json.NewDecoder(rd)
	for {
		var req rpcReq
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// try to skip bad lines
			continue
		}

		switch req.Method {
		case "tools/list":
			writeResp(out, req.ID, map[string]any{"tools": srv.tools}, nil)

		case "tools/call":
			name := ""
			args := map[string]any{}
			if v, ok := req.Params["name"].(string); ok {
				name = v
			}
			if m, ok := req.Params["arguments"].(map[string]any); ok {
				args = m
			}
			// Per-call timeout to avoid stuck handlers
			ctx, cancel := context.WithTimeout(context.Background(), srv.DefaultTimeout)
			res, err := srv.callTool(ctx, name, args)
			cancel()
			writeResp(out, req.ID, res, err)

		default:
			writeResp(out, req.ID, nil, fmt.Errorf("unknown method: %s", req.Method))
		}
	}
}

func main() {
	cfgPath := os.Getenv("ORCA_CONFIG")
	srv, err := NewMCPServer(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(1)
	}
}
