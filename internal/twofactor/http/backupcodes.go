package http

import (
	"encoding/json"
	"net/http"

	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/pkg/httpx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// BackupCodesHandler mints recovery codes.
type BackupCodesHandler struct {
	Enrollment *service.EnrollmentService
}

// BackupCodesRequest controls the batch. Count zero means the default
// batch size; append keeps any unused codes.
type BackupCodesRequest struct {
	Count  int  `json:"count"`
	Append bool `json:"append"`
}

// BackupCodesResponse carries the plaintexts, visible this once.
type BackupCodesResponse struct {
	Codes []string `json:"codes"`
}

// HandleGenerate handles POST /v1/users/{user_id}/backup-codes.
func (h *BackupCodesHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("user_id")

	var req BackupCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	mode := provider.ModeReplace
	if req.Append {
		mode = provider.ModeAppend
	}

	codes, err := h.Enrollment.GenerateBackupCodes(ctx, userID, req.Count, mode)
	if err != nil {
		slogx.FromContext(ctx).Error("backup code generation failed", "user_id", userID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, BackupCodesResponse{Codes: codes})
}
