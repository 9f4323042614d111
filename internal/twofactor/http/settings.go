package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/pkg/httpx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// SettingsHandler serves the per-user provider settings surface.
type SettingsHandler struct {
	Enrollment *service.EnrollmentService
}

// SetEnabledRequest replaces the user's enabled provider set.
type SetEnabledRequest struct {
	Enabled []string `json:"enabled"`
}

// SetPrimaryRequest stores the user's preferred provider. An empty
// provider clears the preference.
type SetPrimaryRequest struct {
	Provider string `json:"provider"`
}

// HandleOverview handles GET /v1/users/{user_id}/providers.
func (h *SettingsHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	statuses, err := h.Enrollment.Overview(ctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("provider overview failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, statuses)
}

// HandleSetEnabled handles PUT /v1/users/{user_id}/providers.
func (h *SettingsHandler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.Enrollment.SetEnabledProviders(ctx, userID, req.Enabled); err != nil {
		slogx.FromContext(ctx).Error("set enabled providers failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPrimary handles PUT /v1/users/{user_id}/providers/primary.
func (h *SettingsHandler) HandleSetPrimary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	var req SetPrimaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	err := h.Enrollment.SetPrimaryPreference(ctx, userID, req.Provider)
	if errors.Is(err, provider.ErrUnknownProvider) {
		httpx.WriteError(w, http.StatusBadRequest,
			"unknown_provider", "No such provider is registered.")
		return
	}
	if err != nil {
		slogx.FromContext(ctx).Error("set primary preference failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
