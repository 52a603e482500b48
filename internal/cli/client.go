package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID             string            `json:"id" yaml:"id"`
	Pipeline       string            `json:"pipeline" yaml:"pipeline"`
	Trigger        string            `json:"trigger" yaml:"trigger"`
	TriggerTime    string            `json:"trigger_time" yaml:"trigger_time"`
	Status         string            `json:"status" yaml:"status"`
	StartTimestamp string            `json:"start_timestamp,omitempty" yaml:"start_timestamp,omitempty"`
	StartedAt      string            `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt     string            `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration       string            `json:"duration,omitempty" yaml:"duration,omitempty"`
	FailedStep     string            `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Error          string            `json:"error,omitempty" yaml:"error,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" yaml:"idempotency_key,omitempty"`
	CreatedAt      string            `json:"created_at" yaml:"created_at"`
	Steps          []StepRunResponse `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// IsFinished возвращает true для финальных статусов run.
func (r *RunResponse) IsFinished() bool {
	switch r.Status {
	case "SUCCEEDED", "FAILED", "CANCELLED":
		return true
	default:
		return false
	}
}

// StepRunResponse — состояние шага внутри run.
type StepRunResponse struct {
	StepID     string `json:"step_id" yaml:"step_id"`
	Position   int    `json:"position" yaml:"position"`
	Status     string `json:"status" yaml:"status"`
	Attempts   int    `json:"attempts" yaml:"attempts"`
	Output     string `json:"output,omitempty" yaml:"output,omitempty"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// StepDefResponse — определение шага из API.
type StepDefResponse struct {
	ID         string   `json:"id" yaml:"id"`
	Type       string   `json:"type" yaml:"type"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Retries    int      `json:"retries" yaml:"retries"`
	RetryDelay string   `json:"retry_delay" yaml:"retry_delay"`
}

// --- Request types ---

// CreateRunRequest — ручной запуск pipeline.
type CreateRunRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CancelRunRequest — отмена run.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Status string
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound проверяет, что API ответил 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// --- Client ---

// Client — HTTP-клиент для batchflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list(ctx, "/api/v1/runs", params, &runs)
	return runs, err
}

// StartRun запускает pipeline вручную.
func (c *Client) StartRun(ctx context.Context, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post(ctx, "/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(ctx context.Context, id, reason string) (*RunResponse, error) {
	var run RunResponse
	err := c.post(ctx, "/api/v1/runs/"+url.PathEscape(id)+"/cancel", CancelRunRequest{Reason: reason}, &run)
	return &run, err
}

// WaitRun опрашивает run до финального статуса или отмены ctx.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (*RunResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.IsFinished() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- Steps ---

// ListSteps возвращает определения шагов pipeline.
func (c *Client) ListSteps(ctx context.Context) ([]StepDefResponse, error) {
	var defs []StepDefResponse
	err := c.list(ctx, "/api/v1/steps", nil, &defs)
	return defs, err
}

// --- HTTP helpers ---

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.doData(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	return c.doData(ctx, http.MethodPost, path, body, result)
}

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body any, result any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
