package voltlinesdk

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

// Client is a minimal Voltline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	ActorRole   string
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

// Task represents the API work order model (partial).
type Task struct {
	ID         string  `json:"id"`
	Code       string  `json:"code"`
	Title      string  `json:"title"`
	Priority   string  `json:"priority"`
	Status     string  `json:"status"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	Schedule   struct {
		Date  string `json:"date"`
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"schedule"`
}

type Issue struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Event represents a feed entry.
type Event struct {
	ID          int64     `json:"id"`
	TS          time.Time `json:"ts"`
	Actor       string    `json:"actor"`
	Verb        string    `json:"verb"`
	SubjectKind string    `json:"subject_kind"`
	SubjectRef  string    `json:"subject_ref"`
	Payload     string    `json:"payload_json,omitempty"`
	Read        *bool     `json:"read,omitempty"`
}

// FeedPage wraps feed responses with a cursor and the caller's unread count.
type FeedPage struct {
	Events     []Event `json:"events"`
	NextCursor int64   `json:"next_cursor,omitempty"`
	Unread     int     `json:"unread"`
}

// Stats is the dashboard payload (partial).
type Stats struct {
	AsOf           string  `json:"as_of"`
	TodayTotal     int     `json:"today_total"`
	PendingToday   int     `json:"pending_today"`
	CompletedToday int     `json:"completed_today"`
	OpenIssues     int     `json:"open_issues"`
	UrgentIssues   int     `json:"urgent_issues"`
	OnTimeRate     float64 `json:"on_time_rate"`
	AvgRating      float64 `json:"avg_rating"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a work order.
func (c *Client) CreateTask(ctx context.Context, body map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// Assign assigns a pending work order to a worker.
func (c *Client) Assign(ctx context.Context, taskID, workerID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/assign", url.PathEscape(taskID)), map[string]any{"worker_id": workerID}, &resp)
	return resp, err
}

// Transition moves a work order to status with any extra fields it needs.
func (c *Client) Transition(ctx context.Context, taskID, status string, extra map[string]any) (Task, error) {
	body := map[string]any{"status": status}
	for k, v := range extra {
		body[k] = v
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/transition", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// ReportIssue escalates an obstruction on a work order.
func (c *Client) ReportIssue(ctx context.Context, taskID, typ, description, priority string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/issues", url.PathEscape(taskID)), map[string]any{
		"type":        typ,
		"description": description,
		"priority":    priority,
	}, &resp)
	return resp, err
}

// Stats returns the caller's dashboard.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "stats", nil, &resp)
	return resp, err
}

// Feed returns recent activity, newest first. before is an exclusive event
// id cursor; 0 starts from the newest event.
func (c *Client) Feed(ctx context.Context, limit int, before int64) (FeedPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if before > 0 {
		q.Set("before", fmt.Sprint(before))
	}
	endpoint := "feed"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp FeedPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkRead flags an event as seen by the caller.
func (c *Client) MarkRead(ctx context.Context, eventID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("feed/%d/read", eventID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
		req.Header.Set("X-Actor-Role", c.ActorRole)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
