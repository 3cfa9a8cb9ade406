package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mediavault/internal/auth"
	"mediavault/internal/models"
)

type dataset struct {
	Users      map[string]models.User       `json:"users"`
	Categories map[string]models.Category   `json:"categories"`
	Files      map[string]models.FileRecord `json:"files"`
}

func newDataset() dataset {
	return dataset{
		Users:      make(map[string]models.User),
		Categories: make(map[string]models.Category),
		Files:      make(map[string]models.FileRecord),
	}
}

func cloneDataset(src dataset) dataset {
	dst := newDataset()
	for id, user := range src.Users {
		dst.Users[id] = user
	}
	for id, category := range src.Categories {
		dst.Categories[id] = category
	}
	for id, file := range src.Files {
		dst.Files[id] = file
	}
	return dst
}

// Storage is the JSON-file-backed Repository. An empty file path keeps the
// dataset in memory only, which the tests rely on.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

var _ Repository = (*Storage)(nil)

// NewJSONRepository opens (or initializes) the datastore at filePath. Pass an
// empty path for a purely in-memory store.
func NewJSONRepository(filePath string) (*Storage, error) {
	s := &Storage{filePath: strings.TrimSpace(filePath), data: newDataset()}
	if s.filePath == "" {
		return s, nil
	}
	payload, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read datastore: %w", err)
	}
	if len(payload) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(payload, &s.data); err != nil {
		return nil, fmt.Errorf("decode datastore: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Categories == nil {
		s.data.Categories = make(map[string]models.Category)
	}
	if s.data.Files == nil {
		s.data.Files = make(map[string]models.FileRecord)
	}
	return s, nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		return s.persistOverride(data)
	}
	if s.filePath == "" {
		return nil
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode datastore: %w", err)
	}
	tmp := s.filePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create datastore directory: %w", err)
	}
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write datastore: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("replace datastore: %w", err)
	}
	return nil
}

// Ping reports datastore health. The JSON store is always reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Users

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	username := strings.ToLower(strings.TrimSpace(params.Username))
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if email == "" {
		return models.User{}, errors.New("email is required")
	}
	if len(params.Password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	role := strings.ToLower(strings.TrimSpace(params.Role))
	if role == "" {
		role = models.RoleOperator
	}
	hashed, err := auth.HashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if strings.EqualFold(existing.Username, username) {
			return models.User{}, &ConflictError{Field: "username"}
		}
		if strings.EqualFold(existing.Email, email) {
			return models.User{}, &ConflictError{Field: "email"}
		}
	}

	now := nowUTC()
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		DisplayName:  strings.TrimSpace(params.DisplayName),
		Role:         role,
		PasswordHash: hashed,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if user.DisplayName == "" {
		user.DisplayName = username
	}

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// AuthenticateUser verifies credentials by username or email and returns the
// matching user. Inactive accounts fail the same way as bad credentials.
func (s *Storage) AuthenticateUser(login, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	login = strings.ToLower(strings.TrimSpace(login))

	s.mu.RLock()
	var user models.User
	found := false
	for _, candidate := range s.data.Users {
		if strings.EqualFold(candidate.Username, login) || strings.EqualFold(candidate.Email, login) {
			user = candidate
			found = true
			break
		}
	}
	s.mu.RUnlock()

	if !found || !user.Active || user.PasswordHash == "" {
		return models.User{}, ErrInvalidCredentials
	}
	if !auth.VerifyPassword(password, user.PasswordHash) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	return user, ok
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users
}

func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	if update.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*update.Email))
		if email == "" {
			return models.User{}, errors.New("email cannot be empty")
		}
		for otherID, existing := range s.data.Users {
			if otherID != id && strings.EqualFold(existing.Email, email) {
				return models.User{}, &ConflictError{Field: "email"}
			}
		}
		user.Email = email
	}
	if update.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*update.Role))
		if role == "" {
			return models.User{}, errors.New("role cannot be empty")
		}
		user.Role = role
	}
	if update.Active != nil {
		user.Active = *update.Active
	}
	user.UpdatedAt = nowUTC()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

func (s *Storage) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	user.PasswordHash = hashed
	user.UpdatedAt = nowUTC()

	updated := cloneDataset(s.data)
	updated.Users[id] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return user, nil
}

// Categories

func (s *Storage) CreateCategory(params CreateCategoryParams) (models.Category, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Category{}, errors.New("category name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Categories {
		if strings.EqualFold(existing.Name, name) {
			return models.Category{}, &ConflictError{Field: "name"}
		}
		if params.IsDefault && params.Active && existing.IsDefault && existing.Active {
			return models.Category{}, &ConflictError{Field: "default category"}
		}
	}

	now := nowUTC()
	category := models.Category{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(params.Description),
		IsDefault:   params.IsDefault,
		Active:      params.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	updated := cloneDataset(s.data)
	updated.Categories[category.ID] = category
	if err := s.persistDataset(updated); err != nil {
		return models.Category{}, err
	}
	s.data = updated
	return category, nil
}

func (s *Storage) GetCategory(id string) (models.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	category, ok := s.data.Categories[id]
	return category, ok
}

func (s *Storage) ListCategories(includeInactive bool) []models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	categories := make([]models.Category, 0, len(s.data.Categories))
	for _, category := range s.data.Categories {
		if !includeInactive && !category.Active {
			continue
		}
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].CreatedAt.Before(categories[j].CreatedAt) })
	return categories
}

func (s *Storage) UpdateCategory(id string, update CategoryUpdate) (models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, ok := s.data.Categories[id]
	if !ok {
		return models.Category{}, ErrNotFound
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Category{}, errors.New("category name cannot be empty")
		}
		for otherID, existing := range s.data.Categories {
			if otherID != id && strings.EqualFold(existing.Name, name) {
				return models.Category{}, &ConflictError{Field: "name"}
			}
		}
		category.Name = name
	}
	if update.Description != nil {
		category.Description = strings.TrimSpace(*update.Description)
	}
	if update.IsDefault != nil {
		category.IsDefault = *update.IsDefault
	}
	if update.Active != nil {
		category.Active = *update.Active
	}
	if category.IsDefault && category.Active {
		for otherID, existing := range s.data.Categories {
			if otherID != id && existing.IsDefault && existing.Active {
				return models.Category{}, &ConflictError{Field: "default category"}
			}
		}
	}
	category.UpdatedAt = nowUTC()

	updated := cloneDataset(s.data)
	updated.Categories[id] = category
	if err := s.persistDataset(updated); err != nil {
		return models.Category{}, err
	}
	s.data = updated
	return category, nil
}

// Files

func (s *Storage) CreateFiles(params []CreateFileParams) ([]models.FileRecord, error) {
	if len(params) == 0 {
		return nil, errors.New("no file records to create")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowUTC()
	records := make([]models.FileRecord, 0, len(params))
	updated := cloneDataset(s.data)
	for _, p := range params {
		record := models.FileRecord{
			ID:          uuid.NewString(),
			DisplayName: truncate(p.DisplayName, models.MaxFileDisplayNameLength),
			ContentType: truncate(p.ContentType, models.MaxFileContentTypeLength),
			Metadata:    p.Metadata,
			UploaderID:  p.UploaderID,
			CategoryID:  p.CategoryID,
			ContentID:   p.ContentID,
			DatasetID:   p.DatasetID,
			ProviderID:  p.ProviderID,
			Provider:    p.Provider,
			SizeBytes:   p.SizeBytes,
			Visible:     p.Visible,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if record.Metadata.Groups == nil {
			record.Metadata.Groups = []models.MetadataGroup{}
		}
		updated.Files[record.ID] = record
		records = append(records, record)
	}
	if err := s.persistDataset(updated); err != nil {
		return nil, err
	}
	s.data = updated
	return records, nil
}

func (s *Storage) GetFile(id string) (models.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.data.Files[id]
	if !ok || file.Deleted {
		return models.FileRecord{}, false
	}
	return file, true
}

func (s *Storage) ListFiles(filter FileFilter) ([]models.FileRecord, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	s.mu.RLock()
	files := make([]models.FileRecord, 0, len(s.data.Files))
	for _, file := range s.data.Files {
		if file.Deleted {
			continue
		}
		if filter.VisibleOnly && !file.Visible {
			continue
		}
		if filter.UploaderID != "" && file.UploaderID != filter.UploaderID {
			continue
		}
		if filter.CategoryID != "" && file.CategoryID != filter.CategoryID {
			continue
		}
		files = append(files, file)
	}
	s.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})

	total := len(files)
	start := (page - 1) * pageSize
	if start >= total {
		return []models.FileRecord{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return files[start:end], total, nil
}

func (s *Storage) SetFileVisibility(id string, visible bool) (models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.data.Files[id]
	if !ok || file.Deleted {
		return models.FileRecord{}, ErrNotFound
	}
	file.Visible = visible
	file.UpdatedAt = nowUTC()

	updated := cloneDataset(s.data)
	updated.Files[id] = file
	if err := s.persistDataset(updated); err != nil {
		return models.FileRecord{}, err
	}
	s.data = updated
	return file, nil
}

// DeleteFile marks a record deleted. The storage-network content is not
// touched; reclaiming it is the network's concern.
func (s *Storage) DeleteFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.data.Files[id]
	if !ok || file.Deleted {
		return ErrNotFound
	}
	file.Deleted = true
	file.UpdatedAt = nowUTC()

	updated := cloneDataset(s.data)
	updated.Files[id] = file
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if len(value) <= limit {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
