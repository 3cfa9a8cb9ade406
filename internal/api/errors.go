package api

import (
	"errors"
	"net/http"

	"mediavault/internal/i18n"
	"mediavault/internal/media"
	"mediavault/internal/storage"
)

// Reason keys for conditions raised at the API boundary. The upload pipeline
// carries its own keys in the media package.
const (
	reasonInvalidCredentials = "auth.invalid_credentials"
	reasonAuthRequired       = "auth.required"
	reasonForbidden          = "auth.forbidden"
	reasonInvalidRequest     = "request.invalid"
	reasonConflict           = "request.conflict"
	reasonNotFound           = "resource.not_found"
	reasonServerError        = "server.error"
)

type errorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeReason emits the structured error envelope: a stable reason key, a
// message localized for the caller's Accept-Language, and diagnostic detail
// outside production.
func (h *Handler) writeReason(w http.ResponseWriter, r *http.Request, status int, reason, detail string) {
	message := reason
	if h.Messages != nil {
		lang := i18n.MatchLanguage(r.Header.Get("Accept-Language"))
		message = h.Messages.Translate(lang, reason)
	}
	body := errorBody{Reason: reason, Message: message}
	if detail != "" && !h.production() {
		body.Detail = detail
	}
	writeJSON(w, status, errorResponse{Error: body})
}

// writePipelineError maps an upload pipeline failure onto the taxonomy:
// client-input problems are 400s, upstream storage-network failures are
// 502s, and anything else is a masked database/internal error.
func (h *Handler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *media.RequestError
	if errors.As(err, &reqErr) {
		h.writeReason(w, r, http.StatusBadRequest, reqErr.Reason, reqErr.Detail)
		return
	}
	var upstream *media.UpstreamError
	if errors.As(err, &upstream) {
		h.logger().Error("storage network rejected upload batch",
			"error", upstream.Err,
			"cause", errors.Unwrap(upstream.Err))
		h.writeReason(w, r, http.StatusBadGateway, media.ReasonUploadFailed, upstream.Err.Error())
		return
	}
	h.writeStorageError(w, r, err)
}

// writeStorageError maps repository failures. Raw driver text is surfaced
// only as non-production detail.
func (h *Handler) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case storage.IsConflict(err):
		h.writeReason(w, r, http.StatusConflict, reasonConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
	case errors.Is(err, storage.ErrInvalidCredentials):
		h.writeReason(w, r, http.StatusUnauthorized, reasonInvalidCredentials, "")
	default:
		h.logger().Error("storage operation failed", "error", err)
		h.writeReason(w, r, http.StatusInternalServerError, reasonServerError, err.Error())
	}
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	h.writeReason(w, r, http.StatusMethodNotAllowed, reasonInvalidRequest, "method "+r.Method+" not allowed")
}
