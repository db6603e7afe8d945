// Package reasonerclient pins the reasoner subprocess's localhost HTTP
// contract (spec.md §6): /health, /process-message, /execute-skill,
// /cost-resume. The reasoner's own LLM loop is out-of-scope business logic
// per spec.md §1 ("only their contract is pinned") — this package is just
// typed request/response structs and a thin http.Client, in the same spirit
// as the teacher pinning its own subprocess wire contracts in internal/mcp.
package reasonerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls one reasoner subprocess bound to a known localhost port.
type Client struct {
	baseURL string
	http    *http.Client
}

// New binds a Client to a reasoner listening on port.
func New(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// HealthCheck reports liveness, bounded to 2s per spec.md §4.A's HealthCheck guarantee.
func (c *Client) HealthCheck(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ProcessMessageRequest is sent to /process-message on each dispatched IncomingMessage.
type ProcessMessageRequest struct {
	AgentID  string `json:"agent_id"`
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

// ProcessMessageResponse is the reasoner's reply, interpreted per spec.md §4.I step 6.
type ProcessMessageResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Paused   bool   `json:"paused,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ProcessMessage forwards one dispatched message.
func (c *Client) ProcessMessage(ctx context.Context, req ProcessMessageRequest) (*ProcessMessageResponse, error) {
	var out ProcessMessageResponse
	if err := c.post(ctx, "/process-message", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteSkillRequest is sent to /execute-skill by the Scheduler's skill pass.
type ExecuteSkillRequest struct {
	SkillID       string   `json:"skill_id"`
	Instructions  string   `json:"instructions"`
	MaxSteps      int      `json:"max_steps,omitempty"`
	RequiredTools []string `json:"required_tools,omitempty"`
	NotifyChatID  string   `json:"notify_chat_id,omitempty"`
}

// ExecuteSkillResponse reports skill-run outcome for persistence as lastRunStatus/lastRunSummary.
type ExecuteSkillResponse struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecuteSkill runs a scheduled skill synchronously.
func (c *Client) ExecuteSkill(ctx context.Context, req ExecuteSkillRequest) (*ExecuteSkillResponse, error) {
	var out ExecuteSkillResponse
	if err := c.post(ctx, "/execute-skill", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CostResumeRequest asks the reasoner to clear a cost-control pause (spec.md §4.L).
type CostResumeRequest struct {
	ResetWindow bool `json:"reset_window"`
}

// CostResumeResponse acknowledges (or refuses) the resume.
type CostResumeResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Error        string `json:"error,omitempty"`
}

// CostResume forwards a resume request; the caller (Agent Supervisor) only
// clears its local paused flag when Acknowledged is true.
func (c *Client) CostResume(ctx context.Context, req CostResumeRequest) (*CostResumeResponse, error) {
	var out CostResumeResponse
	if err := c.post(ctx, "/cost-resume", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reasoner request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading reasoner response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reasoner %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding reasoner response %s: %w", path, err)
	}
	return nil
}
