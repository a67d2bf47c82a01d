package evmagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Message statuses reported by the agent.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the EVM agent REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Submission is the payload required to queue a message for the agent.
type Submission struct {
	// ID is optional and makes the submission idempotent.
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
	// Action forces a specific action name or simile instead of keyword matching.
	Action string `json:"action,omitempty"`
}

// Result is the last reply an action produced.
type Result struct {
	Action  string         `json:"action"`
	Success bool           `json:"success"`
	Text    string         `json:"text"`
	Content map[string]any `json:"content,omitempty"`
}

// Message is the server-side view of a submitted message.
type Message struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id,omitempty"`
	Text       string  `json:"text"`
	Action     string  `json:"action,omitempty"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	MaxRetries int     `json:"max_retries"`
	LastError  string  `json:"last_error,omitempty"`
	ErrorCode  string  `json:"error_code,omitempty"`
	Result     *Result `json:"result,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Done reports whether the message reached a terminal status.
func (m Message) Done() bool {
	return m.Status == StatusSucceeded || m.Status == StatusFailed
}

// TransactionHash returns the hash reported by a successful airdrop, if any.
func (m Message) TransactionHash() string {
	if m.Result == nil {
		return ""
	}
	hash, _ := m.Result.Content["hash"].(string)
	return hash
}

// Stats aggregates message counts by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Action describes an action registered with the agent.
type Action struct {
	Name        string   `json:"name"`
	Similes     []string `json:"similes,omitempty"`
	Description string   `json:"description"`
}

// Plugin describes a plugin known to the agent.
type Plugin struct {
	Info struct {
		ID           string   `json:"id"`
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		Version      string   `json:"version,omitempty"`
		Category     string   `json:"category"`
		Capabilities []string `json:"capabilities,omitempty"`
	} `json:"info"`
	State  string `json:"state"`
	Source string `json:"source"`
}

// ListQuery filters ListMessages and Stats. Zero values are omitted.
type ListQuery struct {
	Statuses  []string
	UserID    string
	Action    string
	Query     string
	HasResult *bool
	Limit     int
	Offset    int
	Ascending bool
	Since     time.Time
	Until     time.Time
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if len(q.Statuses) > 0 {
		v.Set("status", strings.Join(q.Statuses, ","))
	}
	if q.UserID != "" {
		v.Set("user_id", q.UserID)
	}
	if q.Action != "" {
		v.Set("action", q.Action)
	}
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if q.HasResult != nil {
		v.Set("has_result", strconv.FormatBool(*q.HasResult))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Ascending {
		v.Set("order", "asc")
	}
	if !q.Since.IsZero() {
		v.Set("updated_since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		v.Set("updated_until", q.Until.UTC().Format(time.RFC3339))
	}
	return v
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("evmagent api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("evmagent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the agent API. When httpClient is nil, a
// default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitMessage queues a message for the agent.
func (c *Client) SubmitMessage(ctx context.Context, submission Submission) (Message, error) {
	var msg Message
	if err := c.post(ctx, "/api/v1/messages", submission, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// GetMessage fetches a message by identifier.
func (c *Client) GetMessage(ctx context.Context, id string) (Message, error) {
	var msg Message
	if err := c.get(ctx, "/api/v1/messages/"+url.PathEscape(id), nil, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// ListMessages returns messages matching the query, newest first unless
// Ascending is set.
func (c *Client) ListMessages(ctx context.Context, query ListQuery) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/v1/messages", query.values(), &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Stats aggregates messages matching the query.
func (c *Client) Stats(ctx context.Context, query ListQuery) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/messages/stats", query.values(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Actions lists the actions the agent can run.
func (c *Client) Actions(ctx context.Context) ([]Action, error) {
	var out struct {
		Actions []Action `json:"actions"`
	}
	if err := c.get(ctx, "/api/v1/actions", nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// Plugins lists the plugins loaded by the agent.
func (c *Client) Plugins(ctx context.Context) ([]Plugin, error) {
	var out struct {
		Plugins []Plugin `json:"plugins"`
	}
	if err := c.get(ctx, "/api/v1/plugins", nil, &out); err != nil {
		return nil, err
	}
	return out.Plugins, nil
}

// WaitForMessage polls until the message reaches a terminal status or ctx ends.
func (c *Client) WaitForMessage(ctx context.Context, id string, interval time.Duration) (Message, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			return Message{}, err
		}
		if msg.Done() {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
			if apiErr.Code == "" && apiErr.Message == "" {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
