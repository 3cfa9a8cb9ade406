package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mediavault/internal/api"
	"mediavault/internal/i18n"
)

const (
	reasonRateLimited = "rate_limit.exceeded"
	reasonServerError = "server.error"
)

type middlewareErrorBody struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type middlewareErrorResponse struct {
	Error middlewareErrorBody `json:"error"`
}

// writeMiddlewareError emits the same error envelope the handlers use, so
// clients parse one shape regardless of which layer rejected the request.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, handler *api.Handler, status int, reason string) {
	message := reason
	if handler != nil && handler.Messages != nil {
		lang := i18n.MatchLanguage(r.Header.Get("Accept-Language"))
		message = handler.Messages.Translate(lang, reason)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(middlewareErrorResponse{
		Error: middlewareErrorBody{Reason: reason, Message: message},
	})
}

func writeLimitedResponse(w http.ResponseWriter, r *http.Request, handler *api.Handler, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
	}
	writeMiddlewareError(w, r, handler, http.StatusTooManyRequests, reasonRateLimited)
}

func writeServerError(w http.ResponseWriter, r *http.Request, handler *api.Handler) {
	writeMiddlewareError(w, r, handler, http.StatusServiceUnavailable, reasonServerError)
}
