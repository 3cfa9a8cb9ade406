package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"mediavault/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewJSONRepository("")
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	return store
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	store := newTestStorage(t)

	user, err := store.CreateUser(CreateUserParams{
		Username: "Alice",
		Email:    "Alice@Example.com",
		Password: "correct horse",
		Role:     models.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("Username = %q, want %q", user.Username, "alice")
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("Email = %q, want %q", user.Email, "alice@example.com")
	}
	if user.DisplayName != "alice" {
		t.Fatalf("DisplayName = %q, want %q", user.DisplayName, "alice")
	}
	if !user.Active {
		t.Fatal("expected new user to be active")
	}

	authed, err := store.AuthenticateUser("alice", "correct horse")
	if err != nil {
		t.Fatalf("AuthenticateUser by username returned error: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("authenticated ID = %q, want %q", authed.ID, user.ID)
	}

	if _, err := store.AuthenticateUser("alice@example.com", "correct horse"); err != nil {
		t.Fatalf("AuthenticateUser by email returned error: %v", err)
	}
	if _, err := store.AuthenticateUser("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("AuthenticateUser with wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := store.AuthenticateUser("alice", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("AuthenticateUser with empty password = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreateUserConflicts(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.CreateUser(CreateUserParams{Username: "alice", Email: "alice@example.com", Password: "password1"}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	_, err := store.CreateUser(CreateUserParams{Username: "ALICE", Email: "other@example.com", Password: "password1"})
	if !IsConflict(err) {
		t.Fatalf("duplicate username error = %v, want conflict", err)
	}
	_, err = store.CreateUser(CreateUserParams{Username: "bob", Email: "Alice@Example.com", Password: "password1"})
	if !IsConflict(err) {
		t.Fatalf("duplicate email error = %v, want conflict", err)
	}
}

func TestDeactivatedUserCannotAuthenticate(t *testing.T) {
	store := newTestStorage(t)

	user, err := store.CreateUser(CreateUserParams{Username: "alice", Email: "alice@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	inactive := false
	if _, err := store.UpdateUser(user.ID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}
	if _, err := store.AuthenticateUser("alice", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("AuthenticateUser for inactive user = %v, want ErrInvalidCredentials", err)
	}
}

func TestSetUserPassword(t *testing.T) {
	store := newTestStorage(t)

	user, err := store.CreateUser(CreateUserParams{Username: "alice", Email: "alice@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if _, err := store.SetUserPassword(user.ID, "password2"); err != nil {
		t.Fatalf("SetUserPassword returned error: %v", err)
	}
	if _, err := store.AuthenticateUser("alice", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := store.AuthenticateUser("alice", "password2"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if _, err := store.SetUserPassword("missing", "password2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetUserPassword for missing user = %v, want ErrNotFound", err)
	}
}

func TestCategoryDefaultConflict(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.CreateCategory(CreateCategoryParams{Name: "Inputs", IsDefault: true, Active: true}); err != nil {
		t.Fatalf("CreateCategory returned error: %v", err)
	}
	_, err := store.CreateCategory(CreateCategoryParams{Name: "Outputs", IsDefault: true, Active: true})
	if !IsConflict(err) {
		t.Fatalf("second active default error = %v, want conflict", err)
	}

	// An inactive default does not block a new one.
	archived, err := store.CreateCategory(CreateCategoryParams{Name: "Archived", IsDefault: true, Active: false})
	if err != nil {
		t.Fatalf("CreateCategory (inactive default) returned error: %v", err)
	}
	active := true
	if _, err := store.UpdateCategory(archived.ID, CategoryUpdate{Active: &active}); !IsConflict(err) {
		t.Fatalf("activating second default = %v, want conflict", err)
	}
}

func TestListCategoriesFiltersInactive(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.CreateCategory(CreateCategoryParams{Name: "Visible", Active: true}); err != nil {
		t.Fatalf("CreateCategory returned error: %v", err)
	}
	if _, err := store.CreateCategory(CreateCategoryParams{Name: "Hidden", Active: false}); err != nil {
		t.Fatalf("CreateCategory returned error: %v", err)
	}
	if got := len(store.ListCategories(false)); got != 1 {
		t.Fatalf("ListCategories(false) len = %d, want 1", got)
	}
	if got := len(store.ListCategories(true)); got != 2 {
		t.Fatalf("ListCategories(true) len = %d, want 2", got)
	}
}

func seedFileBatch(t *testing.T, store *Storage, uploaderID string, count int) []models.FileRecord {
	t.Helper()
	params := make([]CreateFileParams, 0, count)
	for i := 0; i < count; i++ {
		params = append(params, CreateFileParams{
			DisplayName: "clip.mp4",
			ContentType: "video/mp4",
			UploaderID:  uploaderID,
			ContentID:   "content-" + string(rune('a'+i)),
			ProviderID:  7,
			Provider:    models.ProviderSnapshot{ID: 7, Name: "primary", Active: true},
			SizeBytes:   1024,
			Visible:     true,
		})
	}
	records, err := store.CreateFiles(params)
	if err != nil {
		t.Fatalf("CreateFiles returned error: %v", err)
	}
	return records
}

func TestCreateFilesBatch(t *testing.T) {
	store := newTestStorage(t)
	records := seedFileBatch(t, store, "user-1", 3)
	if len(records) != 3 {
		t.Fatalf("CreateFiles returned %d records, want 3", len(records))
	}
	for _, record := range records {
		if record.ID == "" {
			t.Fatal("expected record ID to be assigned")
		}
		if record.Provider.Name != "primary" {
			t.Fatalf("Provider.Name = %q, want %q", record.Provider.Name, "primary")
		}
		got, ok := store.GetFile(record.ID)
		if !ok {
			t.Fatalf("GetFile(%q) not found", record.ID)
		}
		if got.ContentID != record.ContentID {
			t.Fatalf("ContentID = %q, want %q", got.ContentID, record.ContentID)
		}
	}
}

func TestListFilesPaginationAndVisibility(t *testing.T) {
	store := newTestStorage(t)
	records := seedFileBatch(t, store, "user-1", 5)

	page, total, err := store.ListFiles(FileFilter{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("ListFiles returned error: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Fatalf("page len = %d, want 2", len(page))
	}

	if _, err := store.SetFileVisibility(records[0].ID, false); err != nil {
		t.Fatalf("SetFileVisibility returned error: %v", err)
	}
	_, total, err = store.ListFiles(FileFilter{Page: 1, PageSize: 10, VisibleOnly: true})
	if err != nil {
		t.Fatalf("ListFiles returned error: %v", err)
	}
	if total != 4 {
		t.Fatalf("visible total = %d, want 4", total)
	}

	// Out-of-range page returns an empty slice, not an error.
	page, _, err = store.ListFiles(FileFilter{Page: 9, PageSize: 10})
	if err != nil {
		t.Fatalf("ListFiles returned error: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("out-of-range page len = %d, want 0", len(page))
	}
}

func TestDeleteFileHidesRecord(t *testing.T) {
	store := newTestStorage(t)
	records := seedFileBatch(t, store, "user-1", 1)

	if err := store.DeleteFile(records[0].ID); err != nil {
		t.Fatalf("DeleteFile returned error: %v", err)
	}
	if _, ok := store.GetFile(records[0].ID); ok {
		t.Fatal("deleted file still visible via GetFile")
	}
	if err := store.DeleteFile(records[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteFile = %v, want ErrNotFound", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "store.json")

	store, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	user, err := store.CreateUser(CreateUserParams{Username: "alice", Email: "alice@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	reopened, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	got, ok := reopened.GetUser(user.ID)
	if !ok {
		t.Fatalf("GetUser(%q) not found after reload", user.ID)
	}
	if got.Username != "alice" {
		t.Fatalf("Username after reload = %q, want %q", got.Username, "alice")
	}
	if _, err := reopened.AuthenticateUser("alice", "password1"); err != nil {
		t.Fatalf("AuthenticateUser after reload returned error: %v", err)
	}
}

func TestDeletedFileStaysDeletedAfterReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	store, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	records := seedFileBatch(t, store, "user-1", 2)
	if err := store.DeleteFile(records[0].ID); err != nil {
		t.Fatalf("DeleteFile returned error: %v", err)
	}

	reopened, err := NewJSONRepository(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if _, ok := reopened.GetFile(records[0].ID); ok {
		t.Fatal("deleted file reappeared after reload")
	}
	if _, ok := reopened.GetFile(records[1].ID); !ok {
		t.Fatal("surviving file missing after reload")
	}
	if _, total, err := reopened.ListFiles(FileFilter{Page: 1, PageSize: 10}); err != nil || total != 1 {
		t.Fatalf("ListFiles after reload = total %d, err %v, want total 1", total, err)
	}
}

func TestPersistFailureLeavesDatasetUntouched(t *testing.T) {
	store := newTestStorage(t)
	store.persistOverride = func(dataset) error { return errors.New("disk full") }

	if _, err := store.CreateUser(CreateUserParams{Username: "alice", Email: "alice@example.com", Password: "password1"}); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	store.persistOverride = nil
	if got := len(store.ListUsers()); got != 0 {
		t.Fatalf("ListUsers len after failed persist = %d, want 0", got)
	}
}
