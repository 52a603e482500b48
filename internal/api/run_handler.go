package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/batchflow/internal/domain"
	"github.com/shaiso/batchflow/internal/orchestrator"
	"github.com/shaiso/batchflow/internal/repo"
)

// defaultListLimit — размер страницы списка runs по умолчанию.
const defaultListLimit = 50

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?status=...&limit=...&offset=...
//
// Если подключена история в БД, список берётся из неё, иначе из памяти оркестратора.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		Pipeline: h.orchestrator.Pipeline(),
		Limit:    defaultListLimit,
	}

	// Парсим query параметры
	query := r.URL.Query()
	if status := query.Get("status"); status != "" {
		filter.Status = domain.RunStatus(strings.ToUpper(status))
		if !filter.Status.IsValid() {
			BadRequest(w, "invalid status")
			return
		}
	}

	var err error
	if filter.Limit, err = parseIntParam(query.Get("limit"), defaultListLimit); err != nil {
		BadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = parseIntParam(query.Get("offset"), 0); err != nil {
		BadRequest(w, "invalid offset")
		return
	}

	if h.runs == nil {
		result := h.listFromMemory(filter)
		List(w, result, len(result))
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i := range runs {
		result[i] = RunToResponse(&runs[i], nil)
	}

	List(w, result, len(result))
}

// listFromMemory применяет фильтр к runs в памяти оркестратора.
func (h *Handler) listFromMemory(filter repo.RunFilter) []RunResponse {
	result := make([]RunResponse, 0)
	skipped := 0
	for _, snap := range h.orchestrator.ListRuns(0) {
		if filter.Status != "" && snap.Run.Status != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		if len(result) >= filter.Limit {
			break
		}
		result = append(result, RunToResponse(&snap.Run, nil))
	}
	return result
}

// CreateRun запускает pipeline вручную.
// POST /api/v1/runs
//
// Тело запроса необязательно. Повтор с тем же idempotency_key
// возвращает существующий run.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := decodeOptional(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	runID, err := h.orchestrator.TriggerRun(r.Context(), domain.Trigger{
		Type:           domain.TriggerManual,
		Time:           time.Now().UTC(),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	})
	if HandleError(w, h.logger, err, "") {
		return
	}

	resp, err := h.lookupRun(r.Context(), runID)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	h.logger.Info("run requested via api",
		"run_id", runID,
		"idempotency_key", req.IdempotencyKey,
	)

	Accepted(w, resp)
}

// GetRun возвращает run со статусами шагов.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	resp, err := h.lookupRun(r.Context(), id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, resp)
}

// CancelRun отменяет выполняющийся run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req CancelRunRequest
	if err := decodeOptional(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	err = h.orchestrator.Cancel(id, req.Reason)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	snap, err := h.orchestrator.GetRunStatus(id)
	if HandleError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, SnapshotToResponse(snap))
}

// lookupRun ищет run сначала в памяти оркестратора, затем в истории БД.
func (h *Handler) lookupRun(ctx context.Context, id uuid.UUID) (RunResponse, error) {
	snap, err := h.orchestrator.GetRunStatus(id)
	if err == nil {
		return SnapshotToResponse(snap), nil
	}
	if !errors.Is(err, orchestrator.ErrRunNotFound) || h.runs == nil {
		return RunResponse{}, err
	}

	run, err := h.runs.GetByID(ctx, id)
	if err != nil {
		return RunResponse{}, err
	}

	var steps []domain.StepRun
	if h.steps != nil {
		if steps, err = h.steps.ListByRun(ctx, id); err != nil {
			return RunResponse{}, err
		}
	}
	return RunToResponse(run, steps), nil
}

// decodeOptional читает JSON тело запроса. Пустое тело допустимо.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseIntParam парсит неотрицательный целый query параметр.
func parseIntParam(s string, defaultVal int) (int, error) {
	if s == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
