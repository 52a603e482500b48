package api

import (
	"context"
	"net/http"
	"time"
)

// ListSteps возвращает определения шагов pipeline в порядке выполнения.
// GET /api/v1/steps
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	defs := h.orchestrator.Steps()

	result := make([]StepDefResponse, len(defs))
	for i, def := range defs {
		result[i] = StepDefToResponse(def)
	}

	List(w, result, len(result))
}

// healthCheckTimeout — таймаут одной проверки /healthz.
const healthCheckTimeout = 2 * time.Second

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status     string            `json:"status"`
	Pipeline   string            `json:"pipeline"`
	ActiveRuns int               `json:"active_runs"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// Health — проверка живости сервиса.
// GET /healthz
//
// Если хотя бы одна проверка не прошла, отвечает 503 со статусом degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Pipeline:   h.orchestrator.Pipeline(),
		ActiveRuns: h.orchestrator.ActiveRunsCount(),
	}
	status := http.StatusOK

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check(ctx)
			cancel()

			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	JSON(w, status, resp)
}
