package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/telemetry"
)

const (
	requestEventName = "taskboard.remote.request"
	maxErrorBody     = 64 * 1024
	headerRequestID  = "X-Request-ID"
)

// Client talks to the remote task store over HTTP.
type Client struct {
	baseURL string
	bearer  string
	http    *http.Client
	log     *log.Logger
}

// New creates a client for baseURL. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger,
	}
}

// WithBearer returns a copy of c that authenticates every request with token.
func (c *Client) WithBearer(token string) *Client {
	cp := *c
	cp.bearer = token
	return &cp
}

type tasksEnvelope struct {
	Tasks []domain.RemoteTask `json:"tasks"`
}

type usernamesEnvelope struct {
	Usernames []string `json:"usernames"`
}

// ListTasks returns the tasks visible to the authenticated user.
func (c *Client) ListTasks(ctx context.Context) ([]domain.RemoteTask, error) {
	body, err := c.do(ctx, http.MethodGet, "/tasks", "/tasks", nil)
	if err != nil {
		return nil, err
	}
	tasks := []domain.RemoteTask{}
	if err := decodeList(body, &tasks, func() (any, func()) {
		var env tasksEnvelope
		return &env, func() { tasks = env.Tasks }
	}); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

// CreateTask stores a new task and returns the authoritative version.
func (c *Client) CreateTask(ctx context.Context, req domain.TaskRequest) (domain.RemoteTask, error) {
	body, err := c.do(ctx, http.MethodPost, "/tasks", "/tasks", req)
	if err != nil {
		return domain.RemoteTask{}, err
	}
	var task domain.RemoteTask
	if err := sonic.Unmarshal(body, &task); err != nil {
		return domain.RemoteTask{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

// UpdateTask replaces every field of task id.
func (c *Client) UpdateTask(ctx context.Context, id string, req domain.TaskRequest) (domain.RemoteTask, error) {
	body, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), "/tasks/{id}", req)
	if err != nil {
		return domain.RemoteTask{}, err
	}
	var task domain.RemoteTask
	if len(bytes.TrimSpace(body)) == 0 {
		return domain.RemoteTask{ID: domain.TaskID(id)}, nil
	}
	if err := sonic.Unmarshal(body, &task); err != nil {
		return domain.RemoteTask{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), "/tasks/{id}", nil)
	return err
}

// ListUsernames returns the username directory.
func (c *Client) ListUsernames(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/usernames", "/usernames", nil)
	if err != nil {
		return nil, err
	}
	names := []string{}
	if err := decodeList(body, &names, func() (any, func()) {
		var env usernamesEnvelope
		return &env, func() { names = env.Usernames }
	}); err != nil {
		return nil, fmt.Errorf("decode usernames: %w", err)
	}
	return names, nil
}

// decodeList accepts either a bare JSON array or an object wrapping it.
func decodeList(body []byte, bare any, wrapped func() (any, func())) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		return sonic.Unmarshal(trimmed, bare)
	}
	env, apply := wrapped()
	if err := sonic.Unmarshal(trimmed, env); err != nil {
		return err
	}
	apply()
	return nil
}

func (c *Client) do(ctx context.Context, method, path, route string, in any) (body []byte, err error) {
	metrics, ctx := telemetry.StartRequest(ctx, c.log, requestEventName, "remote", method, route)
	status := 0
	defer func() {
		metrics.Log(status, err)
	}()

	var reader io.Reader
	if in != nil {
		encodeStart := time.Now()
		data, merr := sonic.Marshal(in)
		metrics.Observe("encode", time.Since(encodeStart))
		if merr != nil {
			metrics.SetErrorStage("encode")
			return nil, fmt.Errorf("encode request: %w", merr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		metrics.SetErrorStage("build")
		return nil, err
	}
	requestID := uuid.NewString()
	metrics.Set("request_id", requestID)
	req.Header.Set(headerRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	sendStart := time.Now()
	resp, err := c.http.Do(req)
	metrics.Observe("roundtrip", time.Since(sendStart))
	if err != nil {
		metrics.SetErrorStage("transport")
		return nil, fmt.Errorf("%s %s: %w", method, route, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if status < 200 || status > 299 {
		metrics.SetErrorStage("status")
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newRequestError(status, raw)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		metrics.SetErrorStage("read")
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// RequestError is returned for non-2xx responses.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote request failed with status %d", e.Status)
	}
	return fmt.Sprintf("remote request failed with status %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses to domain errors.
func (e *RequestError) Unwrap() error {
	switch e.Status {
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrTaskNotFound
	}
	return nil
}

func newRequestError(status int, raw []byte) *RequestError {
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(msg) > 0 && msg[0] == '{' && sonic.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			msg = body.Message
		case body.Error != "":
			msg = body.Error
		}
	}
	return &RequestError{Status: status, Message: msg}
}

// IsStatus reports whether err is a RequestError with the given status.
func IsStatus(err error, status int) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Status == status
}
