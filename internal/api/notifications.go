package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/db"
)

// ListNotifications handles GET /v1/users/{userId}/notifications?unread=true&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	opts := db.ListOptions{Limit: 20}
	q := r.URL.Query()

	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			opts.Limit = l
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			opts.Offset = o
		}
	}
	opts.OnlyUnread, _ = strconv.ParseBool(q.Get("unread"))

	records, err := h.store.ListNotifications(r.Context(), userID, opts)
	if err != nil {
		h.storeError(w, err, "list notifications", zap.String("user_id", userID))
		return
	}
	if records == nil {
		records = []db.NotificationRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   records,
		"limit":  opts.Limit,
		"offset": opts.Offset,
		"count":  len(records),
	})
}

// UnreadCount handles GET /v1/users/{userId}/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	n, err := h.store.CountUnread(r.Context(), userID)
	if err != nil {
		h.storeError(w, err, "count unread notifications", zap.String("user_id", userID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

// MarkRead handles POST /v1/users/{userId}/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	if err := h.store.MarkRead(r.Context(), userID, id); err != nil {
		h.storeError(w, err, "mark notification read",
			zap.String("user_id", userID),
			zap.String("notification_id", id.String()),
		)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "isRead": true})
}

// MarkAllRead handles POST /v1/users/{userId}/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	n, err := h.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.storeError(w, err, "mark all notifications read", zap.String("user_id", userID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
