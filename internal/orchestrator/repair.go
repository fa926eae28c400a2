package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orca-live/orcad/internal/planner"
	"github.com/orca-live/orcad/internal/store"
)

const repairLockKey = "orchestrator:repair:lock"

// Repairer periodically scans for workflows whose child rows are shorter
// than their plan and inserts the missing suffix. With transactional
// workflow creation this never fires; it exists so a store without that
// guarantee still converges to a complete workflow.
type Repairer struct {
	Store    Store
	Rdb      *redis.Client
	Interval time.Duration
	Logger   *log.Logger
	Stop     chan struct{}
}

func NewRepairer(st Store, rdb *redis.Client, interval time.Duration, logger *log.Logger) *Repairer {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[REPAIR] ", log.LstdFlags)
	}
	return &Repairer{Store: st, Rdb: rdb, Interval: interval, Logger: logger, Stop: make(chan struct{})}
}

func (r *Repairer) Start() {
	ticker := time.NewTicker(r.Interval)
	go func() {
		for {
			select {
			case <-r.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				r.Tick(context.Background())
			}
		}
	}()
}

// Tick runs one repair pass. A redis lock keeps multiple replicas from
// repairing the same workflows at once; without redis the pass runs
// unguarded, which is safe but wasteful.
func (r *Repairer) Tick(ctx context.Context) {
	if r.Rdb != nil {
		ok, err := r.Rdb.SetNX(ctx, repairLockKey, "1", 2*time.Minute).Result()
		if err != nil || !ok {
			return
		}
		defer r.Rdb.Del(ctx, repairLockKey)
	}

	parents, err := r.Store.ListIncompleteWorkflows(ctx, 50)
	if err != nil {
		r.Logger.Printf("list incomplete workflows: %v", err)
		return
	}
	for _, parent := range parents {
		if err := r.repairOne(ctx, parent.JobID, parent.RequesterAddr, parent.JobInput); err != nil {
			r.Logger.Printf("repair workflow %s: %v", parent.JobID, err)
		}
	}
}

func (r *Repairer) repairOne(ctx context.Context, workflowID, requesterAddr string, planJSON json.RawMessage) error {
	var plan planner.Plan
	if err := json.Unmarshal(planJSON, &plan); err != nil {
		return err
	}

	children, err := r.Store.ListWorkflowChildren(ctx, workflowID)
	if err != nil {
		return err
	}
	present := make(map[int]bool, len(children))
	for _, child := range children {
		var input childInput
		if err := json.Unmarshal(child.JobInput, &input); err != nil {
			continue
		}
		present[input.Step] = true
	}

	var missing []int
	for _, step := range plan.Steps {
		if !present[step.Step] {
			missing = append(missing, step.Step)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return r.insertMissing(ctx, workflowID, requesterAddr, plan, missing)
}

func (r *Repairer) insertMissing(ctx context.Context, workflowID, requesterAddr string, plan planner.Plan, missing []int) error {
	byStep := make(map[int]planner.PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		byStep[s.Step] = s
	}
	var jobs []store.Job
	for _, step := range missing {
		child, err := buildChildJob(workflowID, requesterAddr, step, byStep[step].AgentID)
		if err != nil {
			return err
		}
		jobs = append(jobs, child)
	}
	if err := r.Store.InsertJobs(ctx, jobs); err != nil {
		return err
	}
	workflowsRepaired.Inc()
	r.Logger.Printf("workflow %s: restored %d missing step(s)", workflowID, len(jobs))
	return nil
}
