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

// TOTPHandler serves authenticator app enrollment.
type TOTPHandler struct {
	Enrollment *service.EnrollmentService
}

// TOTPConfirmRequest carries the code proving the user captured the
// pending secret.
type TOTPConfirmRequest struct {
	Code string `json:"code"`
}

// TOTPConfirmResponse reports whether the pending secret was activated.
type TOTPConfirmResponse struct {
	Confirmed bool `json:"confirmed"`
}

// HandleStart handles POST /v1/users/{user_id}/totp.
func (h *TOTPHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	enrollment, err := h.Enrollment.StartTOTPEnrollment(ctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("totp enrollment start failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	// The secret and URL appear exactly once, here.
	httpx.WriteJSON(w, http.StatusOK, enrollment)
}

// HandleConfirm handles POST /v1/users/{user_id}/totp/confirm.
func (h *TOTPHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	var req TOTPConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	ok, err := h.Enrollment.ConfirmTOTPEnrollment(ctx, userID, req.Code)
	switch {
	case errors.Is(err, provider.ErrNotEnrolled):
		httpx.WriteError(w, http.StatusNotFound,
			"no_pending_enrollment", "No enrollment in progress. Start one first.")
		return
	case errors.Is(err, provider.ErrChallengeExpired):
		httpx.WriteError(w, http.StatusBadRequest,
			"enrollment_expired", "The pending secret expired. Start again.")
		return
	case err != nil:
		slogx.FromContext(ctx).Error("totp confirm failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, TOTPConfirmResponse{Confirmed: ok})
}

// HandleRemove handles DELETE /v1/users/{user_id}/totp.
func (h *TOTPHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	if err := h.Enrollment.DisableTOTP(ctx, userID); err != nil {
		slogx.FromContext(ctx).Error("totp removal failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
