package api

import (
	"log/slog"
	"time"

	"mediavault/internal/auth"
	"mediavault/internal/i18n"
	"mediavault/internal/media"
	"mediavault/internal/models"
	"mediavault/internal/observability/metrics"
	"mediavault/internal/storage"
	"mediavault/internal/storagenet"
)

// Deployment modes. Diagnostic detail in error responses is suppressed in
// production.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Handler struct {
	Store    storage.Repository
	Tokens   *auth.TokenService
	Net      storagenet.Client
	Uploads  *media.Orchestrator
	Limits   media.Limits
	Messages *i18n.Bundle
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	Mode     string
}

func NewHandler(store storage.Repository, tokens *auth.TokenService, net storagenet.Client, opts ...func(*Handler)) *Handler {
	h := &Handler{
		Store:  store,
		Tokens: tokens,
		Net:    net,
		Limits: media.DefaultLimits(),
		Mode:   ModeDevelopment,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.Uploads == nil {
		h.Uploads = &media.Orchestrator{Net: net, Store: store, Logger: h.Logger}
	}
	return h
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) production() bool {
	return h.Mode == ModeProduction
}

type userSummary struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func newUserSummary(user models.User) userSummary {
	return userSummary{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Active:      user.Active,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   user.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type categoryResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsDefault   bool   `json:"isDefault"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func newCategoryResponse(category models.Category) categoryResponse {
	return categoryResponse{
		ID:          category.ID,
		Name:        category.Name,
		Description: category.Description,
		IsDefault:   category.IsDefault,
		Active:      category.Active,
		CreatedAt:   category.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   category.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type fileResponse struct {
	ID          string                   `json:"id"`
	DisplayName string                   `json:"displayName"`
	ContentType string                   `json:"contentType,omitempty"`
	Metadata    models.MetadataDocument  `json:"metadata"`
	UploaderID  string                   `json:"uploaderId"`
	CategoryID  string                   `json:"categoryId,omitempty"`
	ContentID   string                   `json:"contentId"`
	DatasetID   string                   `json:"datasetId,omitempty"`
	ProviderID  int64                    `json:"providerId"`
	Provider    *models.ProviderSnapshot `json:"provider,omitempty"`
	SizeBytes   int64                    `json:"sizeBytes"`
	Visible     bool                     `json:"visible"`
	CreatedAt   string                   `json:"createdAt"`
	UpdatedAt   string                   `json:"updatedAt"`
}

func newFileResponse(file models.FileRecord) fileResponse {
	resp := fileResponse{
		ID:          file.ID,
		DisplayName: file.DisplayName,
		ContentType: file.ContentType,
		Metadata:    file.Metadata,
		UploaderID:  file.UploaderID,
		CategoryID:  file.CategoryID,
		ContentID:   file.ContentID,
		DatasetID:   file.DatasetID,
		ProviderID:  file.ProviderID,
		SizeBytes:   file.SizeBytes,
		Visible:     file.Visible,
		CreatedAt:   file.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   file.UpdatedAt.Format(time.RFC3339Nano),
	}
	if file.Provider.ID != 0 {
		snapshot := file.Provider
		resp.Provider = &snapshot
	}
	return resp
}

func newFileResponses(files []models.FileRecord) []fileResponse {
	responses := make([]fileResponse, 0, len(files))
	for _, file := range files {
		responses = append(responses, newFileResponse(file))
	}
	return responses
}
