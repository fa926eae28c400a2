// Package planner turns a caller's request into an ordered execution plan
// over registered agents. Plans are transient; they only become durable once
// the orchestrator persists them as a workflow.
package planner

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/orca-live/orcad/internal/store"
)

// PlanStep references one agent at a 1-based position in the plan. Subdomain
// and price are denormalized at build time so the persisted workflow stays
// meaningful even if the agent record changes later.
type PlanStep struct {
	Step      int    `json:"step"`
	AgentID   string `json:"agent_id"`
	Subdomain string `json:"subdomain"`
	Price     int64  `json:"price"`
}

// Plan is an ordered list of steps plus the original caller input and the
// summed price of all steps.
type Plan struct {
	Steps         []PlanStep     `json:"plan"`
	Input         map[string]any `json:"input,omitempty"`
	EstimatedCost int64          `json:"estimated_cost"`
}

// Confirmer is an optional capability consulted when no agent scores above
// zero for an intent. Implementations may be backed by an LLM and may fail;
// any error counts as "not confirmed".
type Confirmer interface {
	Confirm(ctx context.Context, intent string, candidate store.Agent) (bool, error)
}

// FromAgentIDs builds a plan from an explicit ordered agent id list.
// Unmatched ids are skipped silently; steps are renumbered 1..k over the
// matched agents in caller order.
func FromAgentIDs(agents []store.Agent, agentIDs []string) Plan {
	byID := make(map[string]store.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	var plan Plan
	for _, id := range agentIDs {
		a, ok := byID[id]
		if !ok {
			continue
		}
		plan.Steps = append(plan.Steps, PlanStep{
			Step:      len(plan.Steps) + 1,
			AgentID:   a.ID,
			Subdomain: a.Subdomain,
			Price:     a.Price,
		})
		plan.EstimatedCost += a.Price
	}
	return plan
}

// FromIntent scores every agent against the free-text intent and selects at
// most one. A zero top score auto-selects only in a single-agent directory;
// otherwise the confirmer (if any) gets the final say. When nothing is
// selected the returned plan is empty with the intent preserved under
// input.prompt — that is a normal outcome, not an error.
func FromIntent(ctx context.Context, agents []store.Agent, intent string, confirm Confirmer, logger *log.Logger) Plan {
	empty := Plan{Input: map[string]any{"prompt": intent}}
	if len(agents) == 0 {
		return empty
	}

	intentLower := strings.ToLower(intent)
	type scored struct {
		agent store.Agent
		score int
	}
	ranked := make([]scored, 0, len(agents))
	for _, a := range agents {
		ranked = append(ranked, scored{agent: a, score: scoreAgent(a, intentLower)})
	}
	// Stable sort keeps the directory's relative order between equal scores.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	best := ranked[0]
	var chosen *store.Agent
	switch {
	case best.score > 0:
		chosen = &best.agent
	case len(agents) == 1:
		chosen = &best.agent
	case confirm != nil:
		ok, err := confirm.Confirm(ctx, intent, best.agent)
		if err != nil {
			if logger != nil {
				logger.Printf("confirm %s: %v", best.agent.ID, err)
			}
		} else if ok {
			chosen = &best.agent
		}
	}
	if chosen == nil {
		return empty
	}

	step := PlanStep{Step: 1, AgentID: chosen.ID, Subdomain: chosen.Subdomain, Price: chosen.Price}
	return Plan{
		Steps:         []PlanStep{step},
		Input:         map[string]any{"prompt": intent},
		EstimatedCost: step.Price,
	}
}

// scoreAgent is an additive integer relevance score over case-insensitive
// containment checks against the intent:
//
//	+4 per tag found in the intent
//	+3 at most once if any example_input token is found
//	+2 per description token found
//	+2 per name token found
//	+1 if the category is found
func scoreAgent(a store.Agent, intentLower string) int {
	score := 0
	for _, tag := range a.Tags {
		if tag != "" && strings.Contains(intentLower, strings.ToLower(tag)) {
			score += 4
		}
	}
	for _, w := range strings.Fields(strings.ToLower(a.ExampleInput)) {
		if strings.Contains(intentLower, w) {
			score += 3
			break
		}
	}
	for _, w := range strings.Fields(strings.ToLower(a.Description)) {
		if strings.Contains(intentLower, w) {
			score += 2
		}
	}
	for _, w := range strings.Fields(strings.ToLower(a.Name)) {
		if strings.Contains(intentLower, w) {
			score += 2
		}
	}
	if cat := strings.ToLower(a.Category); cat != "" && strings.Contains(intentLower, cat) {
		score++
	}
	return score
}
