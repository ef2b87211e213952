package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "tagdesk/pkg/logx"
)

const maxBodyBytes = 4 << 20

// Config configures the bot API client.
type Config struct {
	BaseURL    string
	Token      string // optional bearer token (do not log)
	Timeout    time.Duration
	RatePerSec int
}

// Client talks to the bot's tag-manager HTTP API.
//
// Every call is a single request; the client never retries. Retry policy
// belongs to callers (see internal/poller).
type Client struct {
	base    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("remote base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote base url: unsupported scheme %q", u.Scheme)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var out []Task
	if err := c.do(ctx, "list tasks", http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// taskAck is the {"message","task_id"} acknowledgement the bot sends instead
// of a task body.
type taskAck struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
}

// decodeTaskResponse reads a create or update response. The body counts as a
// task only when it carries tag or schedule_type; otherwise it is an
// acknowledgement and the task is the request payload.
func decodeTaskResponse(op string, raw json.RawMessage, p TaskPayload) (Task, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Task{TaskPayload: p}, nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Task{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	var ack taskAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return Task{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	id := ack.ID
	if id == "" {
		id = ack.TaskID
	}

	_, hasTag := keys["tag"]
	_, hasType := keys["schedule_type"]
	if !hasTag && !hasType {
		return Task{ID: id, TaskPayload: p}, nil
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	t.ID = id
	return t, nil
}

func (c *Client) CreateTask(ctx context.Context, p TaskPayload) (Task, error) {
	const op = "create task"
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodPost, "/api/tasks", p, &raw); err != nil {
		return Task{}, err
	}
	t, err := decodeTaskResponse(op, raw, p)
	if err != nil {
		return Task{}, err
	}
	if t.ID == "" {
		return Task{}, fmt.Errorf("%s: %w", op, ErrNoTaskID)
	}
	return t, nil
}

// UpdateTask replaces the task body. If the server only acknowledges, the
// returned task is the request payload under id.
func (c *Client) UpdateTask(ctx context.Context, id string, p TaskPayload) (Task, error) {
	const op = "update task"
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodPut, "/api/tasks/"+url.PathEscape(id), p, &raw); err != nil {
		return Task{}, err
	}
	t, err := decodeTaskResponse(op, raw, p)
	if err != nil {
		return Task{}, err
	}
	t.ID = id
	return t, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, "delete task", http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

type statusEnvelope struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Error   string        `json:"error"`
	Tasks   []StatusEntry `json:"tasks"`
}

// TaskStatus fetches execution status for all tasks. The body may be a bare
// array or a {"status","tasks"} envelope; an envelope with status "error"
// is returned as *APIError.
func (c *Client) TaskStatus(ctx context.Context) ([]StatusEntry, error) {
	const op = "task status"
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, "/api/tasks/status", nil, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var out []StatusEntry
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return out, nil
	}
	var env statusEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Error != "" {
		return nil, &APIError{Op: op, Status: http.StatusOK, Message: env.Error}
	}
	if strings.EqualFold(env.Status, "error") {
		return nil, &APIError{Op: op, Status: http.StatusOK, Message: env.Message}
	}
	return env.Tasks, nil
}

func (c *Client) Broadcast(ctx context.Context, tag, message string) (BroadcastResponse, error) {
	var out BroadcastResponse
	body := map[string]string{"tag": tag, "message": message}
	if err := c.do(ctx, "broadcast", http.MethodPost, "/api/broadcast", body, &out); err != nil {
		return BroadcastResponse{}, err
	}
	return out, nil
}

func (c *Client) GetTagConfig(ctx context.Context) (TagConfig, error) {
	var out TagConfig
	if err := c.do(ctx, "get tag config", http.MethodGet, "/api/tag-config", nil, &out); err != nil {
		return TagConfig{}, err
	}
	return out, nil
}

func (c *Client) SaveTagConfig(ctx context.Context, doc TagConfig) error {
	return c.do(ctx, "save tag config", http.MethodPost, "/api/tag-config", doc, nil)
}

func (c *Client) AddTag(ctx context.Context, tag string) error {
	return c.do(ctx, "add tag", http.MethodPost, "/api/tags", map[string]string{"tag": tag}, nil)
}

func (c *Client) RemoveTag(ctx context.Context, tag string) error {
	return c.do(ctx, "remove tag", http.MethodDelete, "/api/tags/"+url.PathEscape(tag), nil, nil)
}

// ExportConfig returns the bot's full configuration as opaque JSON.
func (c *Client) ExportConfig(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, "export config", http.MethodGet, "/api/export-config", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ImportConfig uploads a previously exported configuration unchanged.
func (c *Client) ImportConfig(ctx context.Context, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return errors.New("import config: document is not valid JSON")
	}
	return c.do(ctx, "import config", http.MethodPost, "/api/import-config", doc, nil)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	var body io.Reader = http.NoBody
	if in != nil {
		var b []byte
		switch v := in.(type) {
		case json.RawMessage:
			b = v
		default:
			var err error
			if b, err = json.Marshal(in); err != nil {
				return fmt.Errorf("%s: encode request: %w", op, err)
			}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	reqID := uuid.New().String()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("remote call failed", logx.String("op", op), logx.String("request_id", reqID), logx.Err(err))
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	c.log.Debug("remote call",
		logx.String("op", op),
		logx.String("method", method),
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.String("request_id", reqID),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		msg := strings.TrimSpace(eb.Error)
		if msg == "" {
			msg = strings.TrimSpace(eb.Message)
		}
		return &APIError{Op: op, Status: resp.StatusCode, Message: msg}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
