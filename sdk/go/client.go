package assetlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Assetline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request represents an incoming asset request.
type Request struct {
	ID       string `json:"id"`
	Account  string `json:"account"`
	Style    string `json:"style,omitempty"`
	Engine   string `json:"engine,omitempty"`
	Topology string `json:"topology,omitempty"`
	Priority string `json:"priority,omitempty"`
	DueAt    string `json:"due_at,omitempty"`
}

// Artist represents a roster entry.
type Artist struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Skills             []string `json:"skills"`
	CapacityConcurrent int      `json:"capacity_concurrent"`
	ActiveLoad         int      `json:"active_load"`
	Available          int      `json:"available"`
}

// ValidationResult is the preset validation outcome.
type ValidationResult struct {
	OK            bool     `json:"ok"`
	Errors        []string `json:"errors"`
	PresetVersion *int     `json:"preset_version"`
	ValidatedAt   string   `json:"validation_timestamp,omitempty"`
}

// RuleEffect is the action side of a routing rule.
type RuleEffect struct {
	Steps    []string `json:"steps,omitempty"`
	SLAHours int      `json:"sla_hours,omitempty"`
	Queue    string   `json:"queue,omitempty"`
}

// MatchedRule records one rule applied while planning.
type MatchedRule struct {
	RuleID    string            `json:"rule_id"`
	Condition map[string]string `json:"condition"`
	Effect    RuleEffect        `json:"effect"`
}

// Plan is a planned workflow.
type Plan struct {
	Steps          []string      `json:"steps"`
	MatchedRules   []MatchedRule `json:"matched_rules"`
	EstimatedHours int           `json:"estimated_hours"`
	SLAHours       int           `json:"sla_hours"`
	PriorityQueue  bool          `json:"priority_queue"`
	Error          string        `json:"error,omitempty"`
}

// Alternate is a runner-up candidate.
type Alternate struct {
	ArtistID   string `json:"artist_id"`
	MatchScore int    `json:"match_score"`
}

// Assignment is the artist selection outcome.
type Assignment struct {
	ArtistID    *string     `json:"artist_id"`
	ArtistName  *string     `json:"artist_name"`
	MatchScore  int         `json:"match_score"`
	Reason      string      `json:"reason"`
	Alternative []Alternate `json:"alternative_artists"`
}

// Decision is a recorded ledger entry.
type Decision struct {
	DecisionID         string           `json:"decision_id"`
	RequestID          string           `json:"request_id"`
	Status             string           `json:"status"`
	Rationale          string           `json:"rationale"`
	CustomerMessage    *string          `json:"customer_message,omitempty"`
	ClarifyingQuestion *string          `json:"clarifying_question,omitempty"`
	ValidationResult   ValidationResult `json:"validation_result"`
	Plan               Plan             `json:"plan"`
	Assignment         Assignment       `json:"assignment"`
	RecordedAt         string           `json:"recorded_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// BatchResult is the outcome of processing all requests.
type BatchResult struct {
	Decisions []Decision `json:"decisions"`
	Failed    []struct {
		RequestID string `json:"request_id"`
		Error     string `json:"error"`
	} `json:"failed"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Requests lists the stored requests.
func (c *Client) Requests(ctx context.Context) ([]Request, error) {
	var resp []Request
	err := c.do(ctx, http.MethodGet, "v0/requests", nil, &resp)
	return resp, err
}

// Artists lists the roster.
func (c *Client) Artists(ctx context.Context) ([]Artist, error) {
	var resp []Artist
	err := c.do(ctx, http.MethodGet, "v0/artists", nil, &resp)
	return resp, err
}

// Validate runs preset validation for a request.
func (c *Client) Validate(ctx context.Context, requestID string) (ValidationResult, error) {
	var resp ValidationResult
	endpoint := fmt.Sprintf("v0/requests/%s/validate", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Plan plans workflow steps for a request.
func (c *Client) Plan(ctx context.Context, requestID string) (Plan, error) {
	var resp Plan
	endpoint := fmt.Sprintf("v0/requests/%s/plan", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Assign picks an artist for a request.
func (c *Client) Assign(ctx context.Context, requestID string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v0/requests/%s/assign", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Process runs the full pipeline for one request and records the decision.
func (c *Client) Process(ctx context.Context, requestID string) (Decision, error) {
	var resp Decision
	endpoint := fmt.Sprintf("v0/requests/%s/process", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ProcessAll runs the pipeline for every stored request.
func (c *Client) ProcessAll(ctx context.Context) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, "v0/process", nil, &resp)
	return resp, err
}

// Decisions lists recorded decisions, optionally filtered.
func (c *Client) Decisions(ctx context.Context, requestID, status string) ([]Decision, error) {
	endpoint := "v0/decisions"
	params := url.Values{}
	if requestID != "" {
		params.Set("request_id", requestID)
	}
	if status != "" {
		params.Set("status", status)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Decision
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetDecision fetches a decision by id.
func (c *Client) GetDecision(ctx context.Context, id string) (Decision, error) {
	var resp Decision
	endpoint := fmt.Sprintf("v0/decisions/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
