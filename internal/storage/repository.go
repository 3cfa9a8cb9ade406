// Package storage persists the vault's domain records. Two drivers exist: a
// JSON-file-backed store for development and tests, and a Postgres store for
// production. Both enforce the same uniqueness invariants; under concurrent
// writers the Postgres constraints are the final arbiter and violations
// surface as conflict errors.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediavault/internal/models"
)

// Sentinel errors shared by both drivers.
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ConflictError reports a uniqueness violation (duplicate username/email, or
// a second active default category). Mapped to a 409 at the API boundary.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s", e.Field)
}

// IsConflict reports whether err is a uniqueness violation.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// CreateUserParams collects the fields required to create an operator
// account. Password is hashed before it ever reaches a driver.
type CreateUserParams struct {
	Username    string
	Email       string
	DisplayName string
	Role        string
	Password    string
}

// UserUpdate applies partial changes; nil fields are left untouched.
type UserUpdate struct {
	Email       *string
	DisplayName *string
	Role        *string
	Active      *bool
}

// CreateCategoryParams collects the fields for a new category.
type CreateCategoryParams struct {
	Name        string
	Description string
	IsDefault   bool
	Active      bool
}

// CategoryUpdate applies partial changes; nil fields are left untouched.
type CategoryUpdate struct {
	Name        *string
	Description *string
	IsDefault   *bool
	Active      *bool
}

// CreateFileParams describes one finalized upload. The provider snapshot is
// persisted verbatim as a historical copy.
type CreateFileParams struct {
	DisplayName string
	ContentType string
	Metadata    models.MetadataDocument
	UploaderID  string
	CategoryID  string
	ContentID   string
	DatasetID   string
	ProviderID  int64
	Provider    models.ProviderSnapshot
	SizeBytes   int64
	Visible     bool
}

// FileFilter selects and paginates file records. Page is 1-based.
type FileFilter struct {
	Page        int
	PageSize    int
	VisibleOnly bool
	UploaderID  string
	CategoryID  string
}

// Repository exposes the datastore operations required by the API handlers
// and the upload finalizer.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(login, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	ListUsers() []models.User
	UpdateUser(id string, update UserUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)

	CreateCategory(params CreateCategoryParams) (models.Category, error)
	GetCategory(id string) (models.Category, bool)
	ListCategories(includeInactive bool) []models.Category
	UpdateCategory(id string, update CategoryUpdate) (models.Category, error)

	// CreateFiles persists one record per uploaded file as a single
	// logical unit of work: either every record lands or none do.
	CreateFiles(params []CreateFileParams) ([]models.FileRecord, error)
	GetFile(id string) (models.FileRecord, bool)
	ListFiles(filter FileFilter) ([]models.FileRecord, int, error)
	SetFileVisibility(id string, visible bool) (models.FileRecord, error)
	DeleteFile(id string) error
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
