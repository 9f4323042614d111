package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/httpx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// SecurityKeysHandler manages hardware key registration and the key
// inventory.
type SecurityKeysHandler struct {
	Enrollment *service.EnrollmentService
}

// KeyRegistrationRequest carries the client's registration response,
// JSON as produced by the signing client.
type KeyRegistrationRequest struct {
	Response string `json:"response"`
}

// KeyRenameRequest relabels a key.
type KeyRenameRequest struct {
	Label string `json:"label"`
}

// HandleStartRegistration handles POST /v1/users/{user_id}/keys/registrations.
func (h *SecurityKeysHandler) HandleStartRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	payload, err := h.Enrollment.StartKeyRegistration(ctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("key registration start failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, payload)
}

// HandleCompleteRegistration handles POST /v1/users/{user_id}/keys.
func (h *SecurityKeysHandler) HandleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := r.PathValue("user_id")

	var req KeyRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Response == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "response is required")
		return
	}

	record, err := h.Enrollment.CompleteKeyRegistration(ctx, userID, req.Response)
	switch {
	case errors.Is(err, provider.ErrChallengeExpired):
		httpx.WriteError(w, http.StatusBadRequest,
			"challenge_expired", "The registration challenge expired. Start again.")
		return
	case errors.Is(err, provider.ErrRegistrationFailed):
		log.Warn("key registration rejected", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusBadRequest,
			"registration_failed", "The registration response did not validate.")
		return
	case err != nil:
		log.Error("key registration failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, record)
}

// HandleList handles GET /v1/users/{user_id}/keys.
func (h *SecurityKeysHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	keys, err := h.Enrollment.ListKeys(ctx, userID)
	if err != nil {
		slogx.FromContext(ctx).Error("key listing failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, keys)
}

// HandleRename handles PATCH /v1/users/{user_id}/keys/{key_id}.
func (h *SecurityKeysHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")
	keyID := r.PathValue("key_id")

	var req KeyRenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "label is required")
		return
	}

	err := h.Enrollment.RenameKey(ctx, userID, keyID, req.Label)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "key_not_found", "")
		return
	}
	if err != nil {
		slogx.FromContext(ctx).Error("key rename failed", "user_id", userID, "key_id", keyID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleRemove handles DELETE /v1/users/{user_id}/keys/{key_id}.
func (h *SecurityKeysHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")
	keyID := r.PathValue("key_id")

	err := h.Enrollment.RemoveKey(ctx, userID, keyID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "key_not_found", "")
		return
	}
	if err != nil {
		slogx.FromContext(ctx).Error("key removal failed", "user_id", userID, "key_id", keyID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
