package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 1 << 20

// AgentClient issues single-attempt JSON calls against agent endpoints.
// Retry and backoff policy is deliberately left to callers further out.
type AgentClient struct {
	client *http.Client
}

func NewAgentClient(timeout time.Duration) *AgentClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &AgentClient{client: &http.Client{Timeout: timeout}}
}

// PostJSON sends body as JSON and returns the status code plus the raw
// response body. A transport-level failure returns a zero status.
func (c *AgentClient) PostJSON(ctx context.Context, url string, body any) (int, json.RawMessage, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, json.RawMessage(respBody), nil
}
