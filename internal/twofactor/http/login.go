package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/pkg/httpx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// LoginHandler drives the second-factor step on behalf of the host's
// login layer.
type LoginHandler struct {
	Login *service.LoginService
}

// LoginStartRequest opens the step for a user the host has already
// password-checked.
type LoginStartRequest struct {
	UserID string `json:"user_id"`
}

// LoginSwitchRequest restarts the step with another provider.
type LoginSwitchRequest struct {
	UserID   string `json:"user_id"`
	Nonce    string `json:"nonce"`
	Provider string `json:"provider"`
}

// LoginVerifyRequest submits a proof for the pending step.
type LoginVerifyRequest struct {
	UserID   string `json:"user_id"`
	Nonce    string `json:"nonce"`
	Provider string `json:"provider"`
	Proof    string `json:"proof"`
}

// HandleStart handles POST /v1/login/start.
func (h *LoginHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req LoginStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "user_id is required")
		return
	}

	start, err := h.Login.Start(ctx, req.UserID)
	if err != nil {
		log.Error("login start failed", "user_id", req.UserID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, start)
}

// HandleSwitch handles POST /v1/login/switch.
func (h *LoginHandler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req LoginSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.UserID == "" || req.Nonce == "" || req.Provider == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "user_id, nonce and provider are required")
		return
	}

	start, err := h.Login.SwitchProvider(ctx, req.UserID, req.Nonce, req.Provider)
	if err != nil {
		writeLoginError(w, log, req.UserID, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, start)
}

// HandleVerify handles POST /v1/login/verify.
func (h *LoginHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req LoginVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.UserID == "" || req.Nonce == "" || req.Provider == "" {
		httpx.WriteError(w, http.StatusBadRequest,
			"invalid_request", "user_id, nonce and provider are required")
		return
	}

	result, err := h.Login.Verify(ctx, req.UserID, req.Nonce, req.Provider, req.Proof)
	if err != nil {
		writeLoginError(w, log, req.UserID, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

// writeLoginError maps step errors to wire responses. Nonce failures
// are the interesting case: the step is dead and the host must restart
// it, which is what 401 signals here.
func writeLoginError(w http.ResponseWriter, log *slog.Logger, userID string, err error) {
	switch {
	case errors.Is(err, service.ErrNonceExpired):
		httpx.WriteError(w, http.StatusUnauthorized,
			"nonce_expired", "The login step expired. Start again.")
	case errors.Is(err, service.ErrNonceMismatch):
		httpx.WriteError(w, http.StatusUnauthorized,
			"invalid_nonce", "Unknown or already-used nonce. Start again.")
	case errors.Is(err, service.ErrProviderUnavailable):
		httpx.WriteError(w, http.StatusBadRequest,
			"provider_unavailable", "That method is not available for this user.")
	case errors.Is(err, provider.ErrChallengeExpired):
		httpx.WriteError(w, http.StatusBadRequest,
			"challenge_expired", "The challenge expired. Start again.")
	case errors.Is(err, provider.ErrSignatureReplay):
		log.Warn("replayed signature rejected", "user_id", userID)
		httpx.WriteError(w, http.StatusBadRequest,
			"signature_replay", "Signature counter did not advance.")
	case errors.Is(err, provider.ErrNotEnrolled):
		httpx.WriteError(w, http.StatusBadRequest,
			"not_enrolled", "The user is not enrolled with that method.")
	default:
		log.Error("login step failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
	}
}
