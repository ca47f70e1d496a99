package momentumsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Momentum HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Award reports the user's XP after an action that changed it.
type Award struct {
	XP        int  `json:"xp"`
	Level     int  `json:"level"`
	LeveledUp bool `json:"leveled_up"`
	NewLevel  int  `json:"new_level,omitempty"`
}

// Notification is a user-facing event raised by an action.
type Notification struct {
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Pattern is one learned behavioral entry.
type Pattern struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Hour      *int   `json:"hour,omitempty"`
	Day       *int   `json:"day,omitempty"`
	Details   string `json:"details,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

// ActionResult is the outcome of one dispatched action.
type ActionResult struct {
	Action        string         `json:"action"`
	Status        string         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	Award         *Award         `json:"award,omitempty"`
	Pattern       *Pattern       `json:"pattern,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	Warning       string         `json:"warning,omitempty"`
	Token         string         `json:"token,omitempty"`
	ExpiresAt     string         `json:"expires_at,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Difficulty string `json:"difficulty"`
	Energy     string `json:"energy"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	XPValue    int    `json:"xp_value"`
}

type Skill struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
	XP    int    `json:"xp"`
	MaxXP int    `json:"max_xp"`
}

// State is a partial session snapshot.
type State struct {
	Tasks       []Task  `json:"tasks"`
	Skills      []Skill `json:"skills"`
	TasksFilter string  `json:"tasks_filter"`
	User        struct {
		XP     int `json:"xp"`
		Level  int `json:"level"`
		Streak int `json:"streak"`
	} `json:"user"`
}

type Suggestion struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	PeakHour *int   `json:"peak_hour,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
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

// Dispatch sends one action with its payload.
func (c *Client) Dispatch(ctx context.Context, action string, payload map[string]any) (ActionResult, error) {
	body := map[string]any{"action": action}
	if payload != nil {
		body["payload"] = payload
	}
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, "actions", body, &resp)
	return resp, err
}

// Login authenticates and keeps the issued token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (ActionResult, error) {
	return c.authenticate(ctx, "LOGIN_USER", username, password)
}

// Register creates the profile, then behaves like Login.
func (c *Client) Register(ctx context.Context, username, password string) (ActionResult, error) {
	return c.authenticate(ctx, "REGISTER_USER", username, password)
}

func (c *Client) authenticate(ctx context.Context, action, username, password string) (ActionResult, error) {
	res, err := c.Dispatch(ctx, action, map[string]any{"username": username, "password": password})
	if err != nil {
		return res, err
	}
	if res.Token != "" {
		c.BearerToken = res.Token
	}
	return res, nil
}

// AddTask creates a task. An empty taskType lets the server default it.
func (c *Client) AddTask(ctx context.Context, title, difficulty, energy, taskType string) (ActionResult, error) {
	payload := map[string]any{"title": title, "difficulty": difficulty, "energy": energy}
	if taskType != "" {
		payload["type"] = taskType
	}
	return c.Dispatch(ctx, "ADD_TASK", payload)
}

// ToggleTask completes or reopens a task.
func (c *Client) ToggleTask(ctx context.Context, id string) (ActionResult, error) {
	return c.Dispatch(ctx, "TOGGLE_TASK", map[string]any{"id": id})
}

// State returns the session snapshot, optionally through a task filter.
func (c *Client) State(ctx context.Context, filter string) (State, error) {
	endpoint := "state"
	if filter != "" {
		endpoint += "?filter=" + filter
	}
	var resp State
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Suggestion(ctx context.Context) (Suggestion, error) {
	var resp Suggestion
	err := c.do(ctx, http.MethodGet, "suggestion", nil, &resp)
	return resp, err
}

// Patterns returns the latest pattern entries.
func (c *Client) Patterns(ctx context.Context, limit int) ([]Pattern, error) {
	endpoint := "patterns"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Pattern `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
