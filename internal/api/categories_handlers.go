package api

import (
	"net/http"
	"strings"

	"mediavault/internal/storage"
)

type createCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDefault   bool   `json:"isDefault"`
	Active      *bool  `json:"active"`
}

type updateCategoryRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsDefault   *bool   `json:"isDefault"`
	Active      *bool   `json:"active"`
}

// Categories handles the /api/v1/categories collection. Listing is public
// and shows active categories only; admins may include inactive ones.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeInactive := false
		if r.URL.Query().Get("includeInactive") == "true" {
			actor, ok := UserFromContext(r.Context())
			includeInactive = ok && actor.HasRole(rolesAdminOnly...)
		}
		categories := h.Store.ListCategories(includeInactive)
		responses := make([]categoryResponse, 0, len(categories))
		for _, category := range categories {
			responses = append(responses, newCategoryResponse(category))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
			return
		}
		var req createCategoryRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		category, err := h.Store.CreateCategory(storage.CreateCategoryParams{
			Name:        req.Name,
			Description: req.Description,
			IsDefault:   req.IsDefault,
			Active:      active,
		})
		if err != nil {
			if storage.IsConflict(err) {
				h.writeStorageError(w, r, err)
				return
			}
			h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, newCategoryResponse(category))
	default:
		h.methodNotAllowed(w, r, "GET, POST")
	}
}

// CategoryByID handles /api/v1/categories/{id}.
func (h *Handler) CategoryByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/categories/")
	if id == "" || strings.Contains(id, "/") {
		h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
		return
	}

	switch r.Method {
	case http.MethodGet:
		category, exists := h.Store.GetCategory(id)
		if !exists {
			h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
			return
		}
		writeJSON(w, http.StatusOK, newCategoryResponse(category))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
			return
		}
		var req updateCategoryRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
			return
		}
		category, err := h.Store.UpdateCategory(id, storage.CategoryUpdate{
			Name:        req.Name,
			Description: req.Description,
			IsDefault:   req.IsDefault,
			Active:      req.Active,
		})
		if err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newCategoryResponse(category))
	default:
		h.methodNotAllowed(w, r, "GET, PATCH")
	}
}
