package ateliersdk

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

// Client is a minimal Atelier HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// WorkSpec describes what an item should produce.
type WorkSpec struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Components         []string `json:"components,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Feedback           []string `json:"feedback,omitempty"`
}

// Item represents the API work item model.
type Item struct {
	ID          string   `json:"id"`
	Domain      string   `json:"domain"`
	Kind        string   `json:"kind,omitempty"`
	Spec        WorkSpec `json:"spec"`
	Priority    string   `json:"priority"`
	CostOfDelay float64  `json:"cost_of_delay"`
	JobSize     float64  `json:"job_size"`
	Iteration   int      `json:"iteration"`
	ParentID    *string  `json:"parent_id,omitempty"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Artifact is the produced output for a work item.
type Artifact struct {
	ItemID     string `json:"item_id"`
	Code       string `json:"code"`
	Format     string `json:"format"`
	ParseError string `json:"parse_error,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// CriticResult is one critic's judgment.
type CriticResult struct {
	AgentName string  `json:"agent_name"`
	Aspect    string  `json:"aspect"`
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Feedback  string  `json:"feedback,omitempty"`
	Degraded  bool    `json:"degraded,omitempty"`
}

// Validation is the aggregate decision for one iteration.
type Validation struct {
	ItemID        string         `json:"item_id"`
	Iteration     int            `json:"iteration"`
	Results       []CriticResult `json:"results"`
	MasterScore   float64        `json:"master_score"`
	WeightedScore float64        `json:"weighted_score"`
	Approved      bool           `json:"approved"`
	Forced        bool           `json:"forced,omitempty"`
	Feedback      string         `json:"feedback,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

// Advance reports a convergence decision.
type Advance struct {
	Outcome   string `json:"outcome"`
	Item      Item   `json:"item"`
	Successor *Item  `json:"successor,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Domain     string `json:"domain,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedItems wraps item listings with cursors.
type PaginatedItems struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitOptions parameterizes Submit beyond the work spec itself.
type SubmitOptions struct {
	Kind        string
	Priority    string
	CostOfDelay float64
	JobSize     float64
}

// Submit enqueues a new work item.
func (c *Client) Submit(ctx context.Context, domain string, spec WorkSpec, opts SubmitOptions) (Item, error) {
	body := map[string]any{
		"domain":        domain,
		"spec":          spec,
		"kind":          opts.Kind,
		"priority":      opts.Priority,
		"cost_of_delay": opts.CostOfDelay,
		"job_size":      opts.JobSize,
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, "v0/items", body, &resp)
	return resp, err
}

// GetItem fetches a work item by id.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Lineage returns the full attempt chain for an item.
func (c *Client) Lineage(ctx context.Context, id string) ([]Item, error) {
	var resp []Item
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/items/%s/lineage", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListItems returns a filtered page of items.
func (c *Client) ListItems(ctx context.Context, domain, status string, limit int, cursor string) (PaginatedItems, error) {
	q := url.Values{}
	if domain != "" {
		q.Set("domain", domain)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/items"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedItems
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Claim pulls the highest-priority pending item in a domain. External runners
// use this together with DepositArtifact and RecordValidation.
func (c *Client) Claim(ctx context.Context, domain string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/domains/%s/claim", url.PathEscape(domain)), nil, &resp)
	return resp, err
}

// DepositArtifact stores the produced output for an item.
func (c *Client) DepositArtifact(ctx context.Context, itemID, code, format string) (Artifact, error) {
	body := map[string]any{
		"code":   code,
		"format": format,
	}
	var resp Artifact
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("v0/items/%s/artifact", url.PathEscape(itemID)), body, &resp)
	return resp, err
}

// GetArtifact fetches the item's artifact.
func (c *Client) GetArtifact(ctx context.Context, itemID string) (Artifact, error) {
	var resp Artifact
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/items/%s/artifact", url.PathEscape(itemID)), nil, &resp)
	return resp, err
}

// RecordValidation records an externally computed validation and advances the
// item through the convergence controller.
func (c *Client) RecordValidation(ctx context.Context, itemID string, v Validation) (Advance, error) {
	body := map[string]any{
		"results":        v.Results,
		"master_score":   v.MasterScore,
		"weighted_score": v.WeightedScore,
		"approved":       v.Approved,
		"feedback":       v.Feedback,
	}
	var resp Advance
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/items/%s/validations", url.PathEscape(itemID)), body, &resp)
	return resp, err
}

// ListValidations returns validation records for an item; lineage widens the
// listing to the whole attempt chain.
func (c *Client) ListValidations(ctx context.Context, itemID string, lineage bool) ([]Validation, error) {
	endpoint := fmt.Sprintf("v0/items/%s/validations", url.PathEscape(itemID))
	if lineage {
		endpoint += "?lineage=true"
	}
	var resp []Validation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
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
