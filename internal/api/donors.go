package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/blood"
	"github.com/lalithlochan/bloodlink/internal/db"
	"github.com/lalithlochan/bloodlink/internal/matching"
)

// TokenRequest is a device registration.
type TokenRequest struct {
	UserID     string `json:"userId"`
	Token      string `json:"token"`
	DeviceID   string `json:"deviceId"`
	DeviceType string `json:"deviceType"`
	AppVersion string `json:"appVersion"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// RegisterToken handles POST /v1/tokens. Repeating the same registration is harmless.
func (h *Handler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	req.Token = strings.TrimSpace(req.Token)

	if req.UserID == "" || req.DeviceID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "userId and deviceId are required")
		return
	}
	if !matching.ValidToken(req.Token) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid push token", "token is not a valid device token")
		return
	}

	p := db.TokenProjection{
		UserID:     req.UserID,
		DeviceID:   req.DeviceID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
		AppVersion: req.AppVersion,
		IsLoggedIn: req.IsLoggedIn,
	}
	if err := h.store.UpsertTokenProjection(r.Context(), p); err != nil {
		h.storeError(w, err, "register push token",
			zap.String("user_id", req.UserID),
			zap.String("device_id", req.DeviceID),
		)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "token registered",
	})
}

type sessionRequest struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// Login handles POST /v1/sessions/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.setLoginState(w, r, true)
}

// Logout handles POST /v1/sessions/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.setLoginState(w, r, false)
}

func (h *Handler) setLoginState(w http.ResponseWriter, r *http.Request, loggedIn bool) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.DeviceID) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "userId and deviceId are required")
		return
	}

	if err := h.store.SetLoginState(r.Context(), req.UserID, req.DeviceID, loggedIn); err != nil {
		h.storeError(w, err, "update login state",
			zap.String("user_id", req.UserID),
			zap.Bool("logged_in", loggedIn),
		)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DonorRequest is the body of PUT /v1/donors/{id}. Omitted switches default to on.
type DonorRequest struct {
	BloodGroup          string     `json:"bloodGroup"`
	District            string     `json:"district"`
	IsAvailable         *bool      `json:"isAvailable"`
	IsActive            *bool      `json:"isActive"`
	NotificationEnabled *bool      `json:"notificationEnabled"`
	LastDonationDate    db.Instant `json:"lastDonationDate"`
}

// UpsertDonor handles PUT /v1/donors/{id}
func (h *Handler) UpsertDonor(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "id")

	var req DonorRequest
	if !h.decode(w, r, &req) {
		return
	}

	group, err := blood.Parse(req.BloodGroup)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid blood group", err.Error())
		return
	}
	district := strings.TrimSpace(req.District)
	if district == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing district", "district is required")
		return
	}

	p := db.DonorProfile{
		DonorID:             donorID,
		BloodGroup:          group,
		District:            district,
		IsAvailable:         orTrue(req.IsAvailable),
		IsActive:            orTrue(req.IsActive),
		NotificationEnabled: orTrue(req.NotificationEnabled),
		LastDonationDate:    req.LastDonationDate,
	}
	if err := h.store.UpsertDonorProfile(r.Context(), p); err != nil {
		h.storeError(w, err, "upsert donor", zap.String("donor_id", donorID))
		return
	}

	donor, err := h.store.GetDonor(r.Context(), donorID)
	if err != nil {
		h.storeError(w, err, "get donor", zap.String("donor_id", donorID))
		return
	}
	writeJSON(w, http.StatusOK, donor)
}

// SetAvailability handles PATCH /v1/donors/{id}/availability
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "id")

	var req struct {
		IsAvailable *bool `json:"isAvailable"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.IsAvailable == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing isAvailable", "isAvailable is required")
		return
	}

	if err := h.store.SetAvailability(r.Context(), donorID, *req.IsAvailable); err != nil {
		h.storeError(w, err, "set availability", zap.String("donor_id", donorID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"donorId":     donorID,
		"isAvailable": *req.IsAvailable,
	})
}

func orTrue(b *bool) bool {
	return b == nil || *b
}
