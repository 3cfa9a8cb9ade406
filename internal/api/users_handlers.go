package api

import (
	"net/http"
	"strings"

	"mediavault/internal/storage"
)

type createUserRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

type updateUserRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Role        *string `json:"role"`
	Active      *bool   `json:"active"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// Users handles the /api/v1/users collection: admin-only create and list.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
			return
		}
		users := h.Store.ListUsers()
		summaries := make([]userSummary, 0, len(users))
		for _, user := range users {
			summaries = append(summaries, newUserSummary(user))
		}
		writeJSON(w, http.StatusOK, summaries)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
			return
		}
		user, err := h.Store.CreateUser(storage.CreateUserParams{
			Username:    req.Username,
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Role:        req.Role,
			Password:    req.Password,
		})
		if err != nil {
			if storage.IsConflict(err) {
				h.writeStorageError(w, r, err)
				return
			}
			h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, newUserSummary(user))
	default:
		h.methodNotAllowed(w, r, "GET, POST")
	}
}

// UserByID handles /api/v1/users/{id} and /api/v1/users/{id}/password.
func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/users/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
		return
	}

	if sub == "password" {
		h.setUserPassword(w, r, id)
		return
	}
	if sub != "" {
		h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		actor, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		if actor.ID != id && !actor.HasRole(rolesAdminOnly...) {
			h.writeReason(w, r, http.StatusForbidden, reasonForbidden, "")
			return
		}
		user, exists := h.Store.GetUser(id)
		if !exists {
			h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
			return
		}
		writeJSON(w, http.StatusOK, newUserSummary(user))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
			return
		}
		user, err := h.Store.UpdateUser(id, storage.UserUpdate{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			Role:        req.Role,
			Active:      req.Active,
		})
		if err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserSummary(user))
	default:
		h.methodNotAllowed(w, r, "GET, PATCH")
	}
}

func (h *Handler) setUserPassword(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		h.methodNotAllowed(w, r, "PUT")
		return
	}
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if actor.ID != id && !actor.HasRole(rolesAdminOnly...) {
		h.writeReason(w, r, http.StatusForbidden, reasonForbidden, "")
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	if _, err := h.Store.SetUserPassword(id, req.Password); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
