package api

import (
	"net/http"
	"strconv"
	"strings"

	"mediavault/internal/media"
	"mediavault/internal/models"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/storage"
)

const (
	providerFieldName = "providerId"
	categoryFieldName = "categoryId"

	maxListPageSize = 100
)

// Upload drives one multipart batch through the ingestion pipeline. Only
// admins may ingest. The stream is collected and validated in full before
// the storage network is contacted, so a doomed request costs no upstream
// calls.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, "POST")
		return
	}
	user, ok := h.requireRole(w, r, rolesAdminOnly...)
	if !ok {
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		h.observeUpload(metrics.UploadRejected, nil)
		h.writeReason(w, r, http.StatusBadRequest, media.ReasonMalformedForm, err.Error())
		return
	}

	batch, err := media.NewCollector(h.Limits).Collect(reader)
	if err != nil {
		h.observeUpload(metrics.UploadRejected, nil)
		h.writePipelineError(w, r, err)
		return
	}

	providerID, err := strconv.ParseInt(batch.Field(providerFieldName), 10, 64)
	if err != nil {
		h.observeUpload(metrics.UploadRejected, nil)
		h.writeReason(w, r, http.StatusBadRequest, media.ReasonProviderInvalid, "providerId must be an integer")
		return
	}

	categoryID, err := h.resolveCategory(batch.Field(categoryFieldName))
	if err != nil {
		h.observeUpload(metrics.UploadRejected, nil)
		h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}

	records, err := h.Uploads.Process(r.Context(), media.Command{
		Batch:      batch,
		ProviderID: providerID,
		UploaderID: user.ID,
		CategoryID: categoryID,
		Visible:    true,
	})
	if err != nil {
		h.observeUploadError(err)
		h.writePipelineError(w, r, err)
		return
	}

	h.observeUpload(metrics.UploadAccepted, records)
	writeJSON(w, http.StatusCreated, newFileResponses(records))
}

// resolveCategory validates an explicit category or falls back to the
// active default when the caller names none.
func (h *Handler) resolveCategory(explicit string) (string, error) {
	if explicit != "" {
		category, exists := h.Store.GetCategory(explicit)
		if !exists || !category.Active {
			return "", &categoryError{id: explicit}
		}
		return category.ID, nil
	}
	for _, category := range h.Store.ListCategories(false) {
		if category.IsDefault {
			return category.ID, nil
		}
	}
	return "", nil
}

type categoryError struct{ id string }

func (e *categoryError) Error() string {
	return "category " + e.id + " not found or inactive"
}

func (h *Handler) observeUpload(outcome string, records []models.FileRecord) {
	if h.Metrics == nil {
		return
	}
	var bytes int64
	for _, record := range records {
		bytes += record.SizeBytes
	}
	h.Metrics.ObserveUpload(outcome, len(records), bytes)
}

func (h *Handler) observeUploadError(err error) {
	if h.Metrics == nil {
		return
	}
	if _, isUpstream := err.(*media.UpstreamError); isUpstream {
		h.Metrics.ObserveUpload(metrics.UploadUpstream, 0, 0)
		return
	}
	h.Metrics.ObserveUpload(metrics.UploadRejected, 0, 0)
}

type listResponse struct {
	Items    []fileResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// MediaList is the public paginated listing: visible, non-deleted records
// only.
func (h *Handler) MediaList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, "GET")
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	// page_size is the canonical parameter; pageSize is accepted as an alias.
	rawPageSize := query.Get("page_size")
	if rawPageSize == "" {
		rawPageSize = query.Get("pageSize")
	}
	pageSize, _ := strconv.Atoi(rawPageSize)
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > maxListPageSize {
		pageSize = maxListPageSize
	}

	files, total, err := h.Store.ListFiles(storage.FileFilter{
		Page:        page,
		PageSize:    pageSize,
		VisibleOnly: true,
		UploaderID:  strings.TrimSpace(query.Get("uploaderId")),
		CategoryID:  strings.TrimSpace(query.Get("categoryId")),
	})
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:    newFileResponses(files),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// StorageInfo passes through the live provider directory. Never cached;
// every call reflects the network's current state.
func (h *Handler) StorageInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, "GET")
		return
	}
	providers, err := h.Net.ListProviders(r.Context())
	if err != nil {
		h.logger().Error("list storage providers", "error", err)
		h.writeReason(w, r, http.StatusBadGateway, media.ReasonUploadFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

// MediaByID handles /api/v1/media/{id} and /api/v1/media/{id}/visibility.
func (h *Handler) MediaByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/media/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
		return
	}

	switch {
	case sub == "visibility":
		h.setMediaVisibility(w, r, id)
	case sub == "" && r.Method == http.MethodGet:
		file, exists := h.Store.GetFile(id)
		if !exists || !h.canSeeFile(r, file) {
			h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
			return
		}
		writeJSON(w, http.StatusOK, newFileResponse(file))
	case sub == "" && r.Method == http.MethodDelete:
		if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
			return
		}
		if err := h.Store.DeleteFile(id); err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	case sub == "":
		h.methodNotAllowed(w, r, "GET, DELETE")
	default:
		h.writeReason(w, r, http.StatusNotFound, reasonNotFound, "")
	}
}

// canSeeFile hides unlisted records from everyone but admins and the
// uploader.
func (h *Handler) canSeeFile(r *http.Request, file models.FileRecord) bool {
	if file.Visible {
		return true
	}
	actor, ok := UserFromContext(r.Context())
	return ok && (actor.HasRole(rolesAdminOnly...) || actor.ID == file.UploaderID)
}

func (h *Handler) setMediaVisibility(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		h.methodNotAllowed(w, r, "PATCH")
		return
	}
	if _, ok := h.requireRole(w, r, rolesAdminOnly...); !ok {
		return
	}
	var req visibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeReason(w, r, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	file, err := h.Store.SetFileVisibility(id, req.Visible)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFileResponse(file))
}
