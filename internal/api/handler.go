package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/circuitbreaker"
	"github.com/lalithlochan/bloodlink/internal/db"
	"github.com/lalithlochan/bloodlink/internal/dispatch"
	"github.com/lalithlochan/bloodlink/internal/redis"
)

// Submitter runs the blood request flow.
type Submitter interface {
	Submit(ctx context.Context, in dispatch.SubmitRequest) (*dispatch.Result, error)
}

// Store is everything the handlers read and write outside the request flow.
// Both the Postgres repository and the MongoDB store implement it.
type Store interface {
	Health(ctx context.Context) error

	GetRequest(ctx context.Context, id uuid.UUID) (*db.BloodRequest, error)
	UpdateRequestStatus(ctx context.Context, id uuid.UUID, status string) error

	GetDonor(ctx context.Context, donorID string) (*db.Donor, error)
	UpsertDonorProfile(ctx context.Context, p db.DonorProfile) error
	SetAvailability(ctx context.Context, donorID string, available bool) error
	UpsertTokenProjection(ctx context.Context, p db.TokenProjection) error
	SetLoginState(ctx context.Context, userID, deviceID string, loggedIn bool) error

	ListNotifications(ctx context.Context, recipientID string, opts db.ListOptions) ([]db.NotificationRecord, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, recipientID string, id uuid.UUID) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// Idempotency guards request submission when the client sends an Idempotency-Key.
type Idempotency interface {
	CheckOrReserve(ctx context.Context, requesterID, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, requesterID, key string, result *redis.IdempotencyResult) error
	Release(ctx context.Context, requesterID, key string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	service     Submitter
	store       Store
	idempotency Idempotency                    // nil if Redis not configured
	breaker     *circuitbreaker.CircuitBreaker // nil if the provider is unguarded
}

func NewHandler(logger *zap.Logger, service Submitter, store Store) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		store:   store,
	}
}

// WithIdempotency enables Idempotency-Key support on request submission.
func (h *Handler) WithIdempotency(idem Idempotency) *Handler {
	h.idempotency = idem
	return h
}

// WithBreaker reports the push provider breaker on /health.
func (h *Handler) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Handler {
	h.breaker = cb
	return h
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

// storeError maps store errors onto problem responses.
func (h *Handler) storeError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", "")
	case errors.Is(err, db.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid_transition", "Status change not allowed", err.Error())
	default:
		h.logger.Error("failed to "+op, append(fields, zap.Error(err))...)
		h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage unavailable", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
