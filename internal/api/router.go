package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/circuitbreaker"
	"github.com/lalithlochan/bloodlink/internal/metrics"
)

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, logger *zap.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", h.SubmitRequest)
		r.Get("/requests/{id}", h.GetRequest)
		r.Patch("/requests/{id}/status", h.UpdateRequestStatus)

		r.Post("/tokens", h.RegisterToken)
		r.Post("/sessions/login", h.Login)
		r.Post("/sessions/logout", h.Logout)

		r.Put("/donors/{id}", h.UpsertDonor)
		r.Patch("/donors/{id}/availability", h.SetAvailability)

		r.Route("/users/{userId}/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Get("/unread-count", h.UnreadCount)
			r.Post("/read-all", h.MarkAllRead)
			r.Post("/{id}/read", h.MarkRead)
		})
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}

type healthResponse struct {
	Status  string                `json:"status"`
	Store   string                `json:"store"`
	Breaker *circuitbreaker.Stats `json:"push_breaker,omitempty"`
}

// Health handles GET /health. An open breaker degrades push delivery but
// requests are still recorded, so it does not fail the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Store: "ok"}
	status := http.StatusOK

	if err := h.store.Health(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		resp.Status = "unavailable"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}

	if h.breaker != nil {
		stats := h.breaker.Stats()
		resp.Breaker = &stats
		if stats.State != circuitbreaker.StateClosed.String() && status == http.StatusOK {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, status, resp)
}
