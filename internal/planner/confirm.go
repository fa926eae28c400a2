package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/orca-live/orcad/internal/store"
	"github.com/orca-live/orcad/provider"
)

// LLMConfirmer asks an LLM whether a zero-score candidate agent is still a
// reasonable match for the intent.
type LLMConfirmer struct {
	Provider provider.Provider
}

func (c *LLMConfirmer) Confirm(ctx context.Context, intent string, candidate store.Agent) (bool, error) {
	if c == nil || c.Provider == nil {
		return false, nil
	}
	prompt := fmt.Sprintf(
		"You are a concise classifier. Answer 'yes' if the following agent is suitable for the intent, otherwise answer 'no'.\n\n"+
			"Intent: %s\n\n"+
			"Agent name: %s\nDescription: %s\nTags: %s\n\n"+
			"Answer with yes or no only.",
		intent, candidate.Name, candidate.Description, strings.Join(candidate.Tags, ", "))
	reply, err := c.Provider.Complete(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(reply), "yes"), nil
}
