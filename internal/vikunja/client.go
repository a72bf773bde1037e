package vikunja

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

	"vikabot/internal/domain"
)

// Client is a minimal Vikunja HTTP API client. Token is supplied per call
// because every chat session carries its own.
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

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "login", "", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Projects lists all projects visible to the token.
func (c *Client) Projects(ctx context.Context, token string) ([]domain.Project, error) {
	var resp []domain.Project
	err := c.do(ctx, http.MethodGet, "projects", token, nil, &resp)
	return resp, err
}

// ProjectTasks lists tasks in one project, optionally server-filtered by due
// date (YYYY-MM-DD). The endpoint answers with either a bare array or a
// {tasks: [...]} wrapper depending on server version; both are accepted.
func (c *Client) ProjectTasks(ctx context.Context, token string, projectID int64, dueDate string) ([]domain.Task, error) {
	endpoint := fmt.Sprintf("projects/%d/tasks", projectID)
	if dueDate != "" {
		endpoint += "?due_date=" + url.QueryEscape(dueDate)
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, token, nil, &raw); err != nil {
		return nil, err
	}
	var tasks []domain.Task
	if err := json.Unmarshal(raw, &tasks); err == nil {
		return tasks, nil
	}
	var wrapped struct {
		Tasks []domain.Task `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return wrapped.Tasks, nil
}

// GetTask fetches a single task by id.
func (c *Client) GetTask(ctx context.Context, token string, taskID int64) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", taskID), token, nil, &resp)
	return resp, err
}

// CreateTaskPayload is the task-creation request body.
type CreateTaskPayload struct {
	Title       string  `json:"title"`
	Priority    int     `json:"priority"`
	ProjectID   int64   `json:"project_id"`
	DueDate     string  `json:"due_date,omitempty"`
	RepeatAfter int64   `json:"repeat_after,omitempty"`
	LabelIDs    []int64 `json:"label_ids,omitempty"`
}

// CreateTask creates a task inside its project.
func (c *Client) CreateTask(ctx context.Context, token string, p CreateTaskPayload) (domain.Task, error) {
	var resp domain.Task
	endpoint := fmt.Sprintf("projects/%d/tasks", p.ProjectID)
	err := c.do(ctx, http.MethodPut, endpoint, token, p, &resp)
	return resp, err
}

// TaskUpdate carries the mutable task fields. DueDate distinguishes "leave
// alone" (nil) from "clear" (pointer to empty string, sent as null).
type TaskUpdate struct {
	Done    *bool   `json:"done,omitempty"`
	DueDate *string `json:"due_date"`
}

// MarshalJSON drops due_date entirely when it was not set, so updates that
// only flip done do not clobber the date.
func (u TaskUpdate) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if u.Done != nil {
		m["done"] = *u.Done
	}
	if u.DueDate != nil {
		if *u.DueDate == "" {
			m["due_date"] = nil
		} else {
			m["due_date"] = *u.DueDate
		}
	}
	return json.Marshal(m)
}

// UpdateTask applies a partial update to a task.
func (c *Client) UpdateTask(ctx context.Context, token string, taskID int64, upd TaskUpdate) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%d", taskID), token, upd, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, token string, taskID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", taskID), token, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body, out any) error {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
