package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/orchestrator"
	"github.com/shaiso/batchflow/internal/repo"
)

// fakeOrchestrator — оркестратор в памяти для тестов API.
type fakeOrchestrator struct {
	mu         sync.Mutex
	runs       map[uuid.UUID]*orchestrator.RunSnapshot
	order      []uuid.UUID
	byKey      map[string]uuid.UUID
	triggerErr error
	cancelled  map[uuid.UUID]string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		runs:      make(map[uuid.UUID]*orchestrator.RunSnapshot),
		byKey:     make(map[string]uuid.UUID),
		cancelled: make(map[uuid.UUID]string),
	}
}

func (f *fakeOrchestrator) Pipeline() string { return "batch_workflow" }

func (f *fakeOrchestrator) TriggerRun(_ context.Context, trigger domain.Trigger) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.triggerErr != nil {
		return uuid.Nil, f.triggerErr
	}
	if id, ok := f.byKey[trigger.IdempotencyKey]; ok && trigger.IdempotencyKey != "" {
		return id, nil
	}

	run := domain.NewRun(f.Pipeline(), trigger)
	f.add(run, domain.RunStatusRunning)
	if trigger.IdempotencyKey != "" {
		f.byKey[trigger.IdempotencyKey] = run.ID
	}
	return run.ID, nil
}

func (f *fakeOrchestrator) add(run *domain.Run, status domain.RunStatus) {
	run.Status = status
	f.runs[run.ID] = &orchestrator.RunSnapshot{
		Run: *run,
		Steps: []domain.StepRun{
			{RunID: run.ID, StepID: "start", Position: 0, Status: domain.StepStatusSucceeded, Attempts: 1},
			{RunID: run.ID, StepID: "download_dataset", Position: 1, Status: domain.StepStatusPending},
		},
	}
	f.order = append(f.order, run.ID)
}

func (f *fakeOrchestrator) GetRunStatus(runID uuid.UUID) (*orchestrator.RunSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrRunNotFound, runID)
	}
	return snap, nil
}

func (f *fakeOrchestrator) ListRuns(limit int) []*orchestrator.RunSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*orchestrator.RunSnapshot
	for i := len(f.order) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, f.runs[f.order[i]])
	}
	return result
}

func (f *fakeOrchestrator) Cancel(runID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, ok := f.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrRunNotFound, runID)
	}
	if snap.Run.IsFinished() {
		return fmt.Errorf("%w: %s", orchestrator.ErrRunFinished, runID)
	}
	f.cancelled[runID] = reason
	snap.Run.MarkCancelled(reason)
	return nil
}

func (f *fakeOrchestrator) Steps() []domain.StepDef {
	return []domain.StepDef{
		{ID: "start", Type: "noop", Retry: domain.DefaultRetryPolicy()},
		{ID: "download_dataset", Type: "command", DependsOn: []string{"start"}, Retry: domain.DefaultRetryPolicy()},
	}
}

func (f *fakeOrchestrator) ActiveRunsCount() int { return 1 }

// fakeHistory — история runs в БД.
type fakeHistory struct {
	runs   map[uuid.UUID]domain.Run
	steps  map[uuid.UUID][]domain.StepRun
	filter repo.RunFilter
}

func (f *fakeHistory) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	f.filter = filter
	var result []domain.Run
	for _, run := range f.runs {
		result = append(result, run)
	}
	return result, nil
}

func (f *fakeHistory) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &run, nil
}

func (f *fakeHistory) ListByRun(_ context.Context, runID uuid.UUID) ([]domain.StepRun, error) {
	return f.steps[runID], nil
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewHandler(cfg).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeData[T any](t *testing.T, data []byte) T {
	t.Helper()
	var envelope struct {
		Data  T   `json:"data"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return envelope.Data
}

func decodeError(t *testing.T, data []byte) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode error %s: %v", data, err)
	}
	return resp.Error
}

func TestCreateRun(t *testing.T) {
	orch := newFakeOrchestrator()
	srv := newTestServer(t, Config{Orchestrator: orch})

	resp, data := doRequest(t, http.MethodPost, srv.URL+"/api/v1/runs", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, data)
	}

	run := decodeData[RunResponse](t, data)
	if run.ID == uuid.Nil {
		t.Fatal("expected run id")
	}
	if run.Trigger != string(domain.TriggerManual) {
		t.Errorf("expected MANUAL trigger, got %s", run.Trigger)
	}
	if len(run.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(run.Steps))
	}
}

func TestCreateRun_Idempotent(t *testing.T) {
	orch := newFakeOrchestrator()
	srv := newTestServer(t, Config{Orchestrator: orch})

	body := `{"idempotency_key":"monthly-2024-01"}`
	_, first := doRequest(t, http.MethodPost, srv.URL+"/api/v1/runs", body)
	_, second := doRequest(t, http.MethodPost, srv.URL+"/api/v1/runs", body)

	a := decodeData[RunResponse](t, first)
	b := decodeData[RunResponse](t, second)
	if a.ID != b.ID {
		t.Errorf("expected same run for same key, got %s and %s", a.ID, b.ID)
	}
	if len(orch.order) != 1 {
		t.Errorf("expected 1 run, got %d", len(orch.order))
	}
}

func TestCreateRun_InvalidBody(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	resp, data := doRequest(t, http.MethodPost, srv.URL+"/api/v1/runs", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if code := decodeError(t, data).Code; code != ErrCodeBadRequest {
		t.Errorf("expected BAD_REQUEST, got %s", code)
	}
}

func TestCreateRun_Stopped(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.triggerErr = orchestrator.ErrOrchestratorStopped
	srv := newTestServer(t, Config{Orchestrator: orch})

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/v1/runs", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestGetRun(t *testing.T) {
	orch := newFakeOrchestrator()
	srv := newTestServer(t, Config{Orchestrator: orch})

	id, _ := orch.TriggerRun(context.Background(), domain.Trigger{Type: domain.TriggerManual})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs/"+id.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	run := decodeData[RunResponse](t, data)
	if run.ID != id {
		t.Errorf("expected run %s, got %s", id, run.ID)
	}
	if run.Steps[0].StepID != "start" || run.Steps[0].Status != string(domain.StepStatusSucceeded) {
		t.Errorf("unexpected first step: %+v", run.Steps[0])
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs/"+uuid.NewString(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if code := decodeError(t, data).Code; code != ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", code)
	}
}

func TestGetRun_InvalidID(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs/not-a-uuid", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetRun_FromHistory(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Hour)
	run := domain.Run{
		ID:         uuid.New(),
		Pipeline:   "batch_workflow",
		Trigger:    domain.TriggerScheduled,
		Status:     domain.RunStatusSucceeded,
		StartedAt:  &started,
		FinishedAt: &finished,
	}
	history := &fakeHistory{
		runs: map[uuid.UUID]domain.Run{run.ID: run},
		steps: map[uuid.UUID][]domain.StepRun{run.ID: {
			{RunID: run.ID, StepID: "start", Status: domain.StepStatusSucceeded, Attempts: 1},
		}},
	}
	srv := newTestServer(t, Config{
		Orchestrator: newFakeOrchestrator(),
		Runs:         history,
		Steps:        history,
	})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs/"+run.ID.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	got := decodeData[RunResponse](t, data)
	if got.StartTimestamp != "20240101000000" {
		t.Errorf("expected start timestamp 20240101000000, got %q", got.StartTimestamp)
	}
	if got.Duration != "1h0m0s" {
		t.Errorf("expected duration 1h0m0s, got %q", got.Duration)
	}
	if len(got.Steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(got.Steps))
	}
}

func TestListRuns_Memory(t *testing.T) {
	orch := newFakeOrchestrator()
	srv := newTestServer(t, Config{Orchestrator: orch})

	for i := 0; i < 3; i++ {
		orch.TriggerRun(context.Background(), domain.Trigger{Type: domain.TriggerManual})
	}
	finished := domain.NewRun("batch_workflow", domain.Trigger{Type: domain.TriggerScheduled})
	orch.add(finished, domain.RunStatusFailed)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"all", "", 4},
		{"limit", "?limit=2", 2},
		{"offset", "?offset=3", 1},
		{"status", "?status=failed", 1},
		{"status running", "?status=RUNNING", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs"+tt.query, "")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			runs := decodeData[[]RunResponse](t, data)
			if len(runs) != tt.want {
				t.Errorf("expected %d runs, got %d", tt.want, len(runs))
			}
		})
	}
}

func TestListRuns_InvalidParams(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	for _, query := range []string{"?status=DONE", "?limit=abc", "?offset=-1"} {
		resp, _ := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs"+query, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestListRuns_History(t *testing.T) {
	run := domain.Run{ID: uuid.New(), Pipeline: "batch_workflow", Status: domain.RunStatusSucceeded}
	history := &fakeHistory{runs: map[uuid.UUID]domain.Run{run.ID: run}}
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator(), Runs: history})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/api/v1/runs?status=succeeded&limit=10&offset=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if runs := decodeData[[]RunResponse](t, data); len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}

	want := repo.RunFilter{Pipeline: "batch_workflow", Status: domain.RunStatusSucceeded, Limit: 10, Offset: 5}
	if history.filter != want {
		t.Errorf("expected filter %+v, got %+v", want, history.filter)
	}
}

func TestCancelRun(t *testing.T) {
	orch := newFakeOrchestrator()
	srv := newTestServer(t, Config{Orchestrator: orch})

	id, _ := orch.TriggerRun(context.Background(), domain.Trigger{Type: domain.TriggerManual})
	url := srv.URL + "/api/v1/runs/" + id.String() + "/cancel"

	resp, data := doRequest(t, http.MethodPost, url, `{"reason":"wrong month"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	if run := decodeData[RunResponse](t, data); run.Status != string(domain.RunStatusCancelled) {
		t.Errorf("expected CANCELLED, got %s", run.Status)
	}
	if orch.cancelled[id] != "wrong month" {
		t.Errorf("expected reason to be passed, got %q", orch.cancelled[id])
	}

	// Повторная отмена: run уже завершён
	resp, data = doRequest(t, http.MethodPost, url, "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if code := decodeError(t, data).Code; code != ErrCodeInvalidState {
		t.Errorf("expected INVALID_STATE, got %s", code)
	}
}

func TestCancelRun_NotFound(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/v1/runs/"+uuid.NewString()+"/cancel", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListSteps(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/api/v1/steps", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	defs := decodeData[[]StepDefResponse](t, data)
	if len(defs) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(defs))
	}
	if defs[1].ID != "download_dataset" || defs[1].DependsOn[0] != "start" {
		t.Errorf("unexpected step: %+v", defs[1])
	}
	if defs[1].Retries != 1 || defs[1].RetryDelay != "5m0s" {
		t.Errorf("unexpected retry policy: %d %s", defs[1].Retries, defs[1].RetryDelay)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator()})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.Pipeline != "batch_workflow" {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestHealth_Degraded(t *testing.T) {
	srv := newTestServer(t, Config{
		Orchestrator: newFakeOrchestrator(),
		HealthChecks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"broker":   func(context.Context) error { return fmt.Errorf("connection closed") },
		},
	})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("expected degraded, got %s", health.Status)
	}
	if health.Checks["database"] != "ok" || health.Checks["broker"] != "connection closed" {
		t.Errorf("unexpected checks: %v", health.Checks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "batchflow_active_runs 0\n")
	})
	srv := newTestServer(t, Config{Orchestrator: newFakeOrchestrator(), MetricsHandler: page})

	resp, data := doRequest(t, http.MethodGet, srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), "batchflow_active_runs") {
		t.Errorf("unexpected metrics body: %s", data)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
