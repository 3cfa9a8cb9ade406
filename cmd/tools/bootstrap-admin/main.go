// Command bootstrap-admin seeds or updates an administrator account in the datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"mediavault/internal/models"
	"mediavault/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		username    string
		email       string
		displayName string
		password    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "admin", "Username for the admin account")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&displayName, "name", "Administrator", "Display name for the admin account")
	flag.StringVar(&password, "password", "", "Password for the admin account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username cannot be empty")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if len(password) < 8 {
		fatalf("--password must be at least 8 characters")
	}
	if strings.TrimSpace(displayName) == "" {
		fatalf("--name cannot be empty")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)

	user, created, err := bootstrapAdmin(repo, username, email, displayName, password)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Admin user %s (%s) %s successfully.\n", user.Username, user.Email, state)
	fmt.Println("Remember to rotate this password after the first login.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(storage.PostgresConfig{DSN: postgresDSN})
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAdmin(repo storage.Repository, username, email, displayName, password string) (models.User, bool, error) {
	normalizedUsername := strings.ToLower(username)
	normalizedEmail := strings.ToLower(email)
	for _, existing := range repo.ListUsers() {
		if existing.Username == normalizedUsername || existing.Email == normalizedEmail {
			return updateAdmin(repo, existing, normalizedEmail, displayName, password)
		}
	}

	user, err := repo.CreateUser(storage.CreateUserParams{
		Username:    normalizedUsername,
		Email:       normalizedEmail,
		DisplayName: displayName,
		Role:        models.RoleAdmin,
		Password:    password,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

func updateAdmin(repo storage.Repository, existing models.User, email, displayName, password string) (models.User, bool, error) {
	var update storage.UserUpdate
	if existing.Email != email {
		update.Email = &email
	}
	if existing.DisplayName != displayName {
		update.DisplayName = &displayName
	}
	if existing.Role != models.RoleAdmin {
		role := models.RoleAdmin
		update.Role = &role
	}
	if !existing.Active {
		active := true
		update.Active = &active
	}

	if update.Email != nil || update.DisplayName != nil || update.Role != nil || update.Active != nil {
		if _, err := repo.UpdateUser(existing.ID, update); err != nil {
			return models.User{}, false, err
		}
	}

	updated, err := repo.SetUserPassword(existing.ID, password)
	if err != nil {
		return models.User{}, false, err
	}
	return updated, false, nil
}
