package orchestrator

import (
	"fmt"
	"strings"
)

// AgentBaseURL resolves an agent's subdomain field into a base URL.
// Accepted forms:
//   - full URL with scheme, returned as-is (trailing slash stripped)
//   - host containing a dot, prefixed with https://
//   - short label, expanded to https://{label}.{agentDomain}
func AgentBaseURL(subdomain, agentDomain string) (string, error) {
	subdomain = strings.TrimSpace(subdomain)
	if subdomain == "" {
		return "", ErrEmptySubdomain
	}
	if strings.HasPrefix(subdomain, "http://") || strings.HasPrefix(subdomain, "https://") {
		return strings.TrimRight(subdomain, "/"), nil
	}
	if strings.Contains(subdomain, ".") {
		return "https://" + subdomain, nil
	}
	return fmt.Sprintf("https://%s.%s", subdomain, agentDomain), nil
}
