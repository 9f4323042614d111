package http

import (
	"encoding/json"
	"net/http"
	netmail "net/mail"

	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/pkg/httpx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// DirectoryHandler lets the host push user email addresses so the
// email provider can deliver codes.
type DirectoryHandler struct {
	Directory *service.StoredDirectory
}

// SetEmailRequest stores a user's address. An empty address clears it.
type SetEmailRequest struct {
	Email string `json:"email"`
}

// HandleSetEmail handles PUT /v1/users/{user_id}/email.
func (h *DirectoryHandler) HandleSetEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	var req SetEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.Email != "" {
		if _, err := netmail.ParseAddress(req.Email); err != nil {
			httpx.WriteError(w, http.StatusBadRequest,
				"invalid_address", "Not a valid email address.")
			return
		}
	}

	if err := h.Directory.SetEmail(ctx, userID, req.Email); err != nil {
		slogx.FromContext(ctx).Error("set email failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
