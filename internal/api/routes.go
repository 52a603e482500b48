package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		Metrics(h.metrics),
	)

	// Service
	mux.HandleFunc("GET /healthz", h.Health)
	if h.metricsPage != nil {
		mux.Handle("GET /metrics", h.metricsPage)
	}

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Steps
	mux.Handle("GET /api/v1/steps", chain(http.HandlerFunc(h.ListSteps)))
}

// Routes возвращает http.Handler со всеми маршрутами.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}
