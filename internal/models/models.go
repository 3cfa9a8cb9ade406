// Package models defines the domain records persisted by the media vault:
// operator accounts, categories, uploaded file records, and the storage
// provider snapshots recorded alongside each upload.
package models

import (
	"strings"
	"time"
)

// Operator roles recognised by the authorization layer. Role comparisons are
// case-insensitive everywhere; the canonical lowercase form is stored.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// User is an operator account. PasswordHash is part of the persisted record;
// API responses go through DTOs that never include it.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasRole reports whether the user's role matches any of the provided roles,
// ignoring case.
func (u User) HasRole(roles ...string) bool {
	for _, role := range roles {
		if strings.EqualFold(u.Role, role) {
			return true
		}
	}
	return false
}

// Category groups file records. At most one category may be the active
// default at a time; the store enforces that invariant.
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsDefault   bool      `json:"isDefault"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MetadataGroup is one validated key/value annotation attached to a file.
// Type is a free-form tag and defaults to "input" when the caller omits it.
type MetadataGroup struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MetadataDocument is the canonical persisted shape of caller-supplied file
// metadata. An upload without metadata persists an empty (non-nil) group
// list.
type MetadataDocument struct {
	Groups []MetadataGroup `json:"groups"`
}

// ProviderSnapshot is the historical copy of a storage provider taken at
// upload time. It is persisted verbatim with each file record and never
// refreshed afterwards, so records stay auditable even when the live
// provider directory changes.
type ProviderSnapshot struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	Service     string `json:"service"`
	ServiceURL  string `json:"serviceUrl"`
}

// Persisted field limits for file records.
const (
	MaxFileDisplayNameLength = 255
	MaxFileContentTypeLength = 128
)

// FileRecord is one uploaded file acknowledged by the storage network.
// ContentID and DatasetID are assigned by the network; Provider is the
// snapshot taken when the upload ran.
type FileRecord struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	ContentType string           `json:"contentType"`
	Metadata    MetadataDocument `json:"metadata"`
	UploaderID  string           `json:"uploaderId"`
	CategoryID  string           `json:"categoryId,omitempty"`
	ContentID   string           `json:"contentId"`
	DatasetID   string           `json:"datasetId,omitempty"`
	ProviderID  int64            `json:"providerId"`
	Provider    ProviderSnapshot `json:"provider"`
	SizeBytes   int64            `json:"sizeBytes"`
	Visible     bool             `json:"visible"`
	Deleted     bool             `json:"deleted,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}
