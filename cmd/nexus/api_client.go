package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// apiClient queries a running nexus serve process's status endpoints.
//
// Grounded on cmd/nexus/api_client.go's thin HTTP client wrapping the
// gateway's status endpoints, trimmed to the two listings this runtime's
// status server exposes.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) listSchedule(sessionID string) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	if err := c.get("/v1/schedule", sessionID, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *apiClient) listSubagents(sessionID string) ([]*models.SubagentTask, error) {
	var tasks []*models.SubagentTask
	if err := c.get("/v1/subagent", sessionID, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *apiClient) get(path, sessionID string, out any) error {
	u := c.baseURL + path + "?" + url.Values{"session_id": {sessionID}}.Encode()
	resp, err := c.http.Get(u)
	if err != nil {
		return fmt.Errorf("nexus: request %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("nexus: read response from %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nexus: %s returned %s: %s", u, resp.Status, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("nexus: decode response from %s: %w", u, err)
	}
	return nil
}
