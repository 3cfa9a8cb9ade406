package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"mediavault/internal/storage"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"tokenType"`
	ExpiresAt string      `json:"expiresAt"`
	User      userSummary `json:"user"`
}

// Login exchanges credentials for a bearer token. Bad credentials and
// deactivated accounts are indistinguishable to the caller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, "POST")
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, "login and password are required")
		return
	}

	user, err := h.Store.AuthenticateUser(req.Login, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			h.writeReason(w, r, http.StatusUnauthorized, reasonInvalidCredentials, "")
			return
		}
		h.writeStorageError(w, r, err)
		return
	}

	token, expiresAt, err := h.Tokens.Issue(user.ID, user.Role, user.DisplayName, 0)
	if err != nil {
		h.logger().Error("issue token", "error", err, "user_id", user.ID)
		h.writeReason(w, r, http.StatusInternalServerError, reasonServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.Format(time.RFC3339Nano),
		User:      newUserSummary(user),
	})
}

// Me returns the resolved local user behind the request's verified claim.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newUserSummary(user))
}
