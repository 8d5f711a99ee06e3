package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode   int
	Message      string
	RetryAfterMs int64
}

func (e *APIError) Error() string {
	if e.RetryAfterMs > 0 {
		return fmt.Sprintf("API error (%d): %s (retry in %.1fs)", e.StatusCode, e.Message, float64(e.RetryAfterMs)/1000)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client wraps HTTP calls to the ElfRadio API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the bearer token sent with every call.
func (c *Client) Token() string { return c.token }

// EventsURL returns the WebSocket URL of the status stream.
func (c *Client) EventsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	var health struct {
		OK bool `json:"ok"`
	}
	if err := c.do(http.MethodGet, "/api/health", nil, &health); err != nil {
		return false, err
	}
	return health.OK, nil
}

// Status fetches the active task and device health
func (c *Client) Status() (*StatusView, error) {
	var st StatusView
	if err := c.do(http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StartTask starts a task and returns its id and name
func (c *Client) StartTask(mode string) (id, name string, err error) {
	var result struct {
		TaskID   string `json:"task_id"`
		TaskName string `json:"task_name"`
	}
	if err := c.do(http.MethodPost, "/api/start_task", map[string]string{"mode": mode}, &result); err != nil {
		return "", "", err
	}
	return result.TaskID, result.TaskName, nil
}

// StopTask stops the active task
func (c *Client) StopTask() error {
	return c.do(http.MethodPost, "/api/stop_task", struct{}{}, nil)
}

// SendText queues text on the active task
func (c *Client) SendText(text string) error {
	return c.do(http.MethodPost, "/api/send_text", map[string]string{"text": text}, nil)
}

// ListTasks fetches task history, newest first
func (c *Client) ListTasks(limit int) ([]TaskItem, error) {
	path := "/api/tasks"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var tasks []TaskItem
	if err := c.do(http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a single task with its transcript
func (c *Client) GetTask(id string) (*TaskDetail, error) {
	var task TaskDetail
	if err := c.do(http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ExportTask streams the task archive into w
func (c *Client) ExportTask(id string, w io.Writer) error {
	req, err := c.newRequest(http.MethodGet, "/api/tasks/"+url.PathEscape(id)+"/export", nil)
	if err != nil {
		return err
	}
	// Archives can be larger than a normal API answer.
	client := *c.httpClient
	client.Timeout = 0
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Config fetches the daemon's masked configuration
func (c *Client) Config() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(http.MethodGet, "/api/config", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// UpdateConfig saves configuration changes for the next task.
func (c *Client) UpdateConfig(updates map[string]interface{}) error {
	return c.do(http.MethodPost, "/api/config/update", updates, nil)
}

func (c *Client) newRequest(method, path string, data interface{}) (*http.Request, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(method, path string, data, out interface{}) error {
	req, err := c.newRequest(method, path, data)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var parsed struct {
		Error        string `json:"error"`
		RetryAfterMs int64  `json:"retry_after_ms"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.RetryAfterMs = parsed.RetryAfterMs
	}
	return apiErr
}
