package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/db"
	"github.com/lalithlochan/bloodlink/internal/dispatch"
	"github.com/lalithlochan/bloodlink/internal/redis"
)

// SubmitRequest handles POST /v1/requests.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	var req dispatch.SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	useIdempotency := idempotencyKey != "" && h.idempotency != nil && req.RequesterID != ""
	if useIdempotency {
		cached, err := h.idempotency.CheckOrReserve(ctx, req.RequesterID, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
			useIdempotency = false
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		}
	}

	result, err := h.service.Submit(ctx, req)
	if err != nil {
		if useIdempotency {
			if rerr := h.idempotency.Release(ctx, req.RequesterID, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}

		var verr *dispatch.ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid blood request", verr.Error())
		case errors.Is(err, dispatch.ErrStorageUnavailable):
			h.logger.Error("blood request failed", zap.Error(err))
			h.writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage unavailable",
				"The request was not dispatched. It is safe to retry.")
		default:
			h.logger.Error("blood request failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to process blood request", "")
		}
		return
	}

	var body bytes.Buffer
	_ = json.NewEncoder(&body).Encode(result)

	if useIdempotency {
		cached := &redis.IdempotencyResult{
			RequestID:  result.RequestID.String(),
			StatusCode: http.StatusCreated,
			Body:       bytes.TrimSpace(body.Bytes()),
		}
		if err := h.idempotency.Store(ctx, req.RequesterID, idempotencyKey, cached); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body.Bytes())
}

// GetRequest handles GET /v1/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "get blood request", zap.String("request_id", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// UpdateRequestStatus handles PATCH /v1/requests/{id}/status.
// Only pending requests can be cancelled or completed.
func (h *Handler) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if req.Status != db.StatusCancelled && req.Status != db.StatusCompleted {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
			"status must be one of: cancelled, completed")
		return
	}

	if err := h.store.UpdateRequestStatus(r.Context(), id, req.Status); err != nil {
		h.storeError(w, err, "update blood request status", zap.String("request_id", id.String()))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": req.Status,
	})
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
