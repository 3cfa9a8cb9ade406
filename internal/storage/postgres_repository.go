package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediavault/internal/auth"
	"mediavault/internal/models"
)

const defaultQueryTimeout = 5 * time.Second

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
	ApplicationName string
}

type postgresRepository struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

var _ Repository = (*postgresRepository)(nil)

// NewPostgresRepository opens a Postgres-backed repository. The caller must
// ensure the schema in scripts/schema.sql has been applied first.
func NewPostgresRepository(cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &postgresRepository{pool: pool, queryTimeout: timeout}, nil
}

func (r *postgresRepository) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.queryTimeout)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool, honouring the context deadline.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func conflictFromPgError(err error, field string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ConflictError{Field: field}
	}
	return err
}

const userColumns = `id, username, email, display_name, role, password_hash, active, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.Role,
		&u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
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
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		displayName = username
	}
	hashed, err := auth.HashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	now := nowUTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, display_name, role, password_hash, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)
		RETURNING `+userColumns,
		uuid.NewString(), username, email, displayName, role, hashed, now)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, conflictFromPgError(err, "username or email")
	}
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(login, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	login = strings.ToLower(strings.TrimSpace(login))

	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE lower(username) = $1 OR lower(email) = $1`, login)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active || user.PasswordHash == "" || !auth.VerifyPassword(password, user.PasswordHash) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) ListUsers() []models.User {
	ctx, cancel := r.queryContext()
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *postgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.User{}, fmt.Errorf("begin user update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}

	if update.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*update.Email))
		if email == "" {
			return models.User{}, errors.New("email cannot be empty")
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

	_, err = tx.Exec(ctx, `
		UPDATE users SET email = $2, display_name = $3, role = $4, active = $5, updated_at = $6
		WHERE id = $1`,
		id, user.Email, user.DisplayName, user.Role, user.Active, user.UpdatedAt)
	if err != nil {
		return models.User{}, conflictFromPgError(err, "email")
	}
	if err := tx.Commit(ctx); err != nil {
		return models.User{}, fmt.Errorf("commit user update: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns, id, hashed, nowUTC())
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("update password: %w", err)
	}
	return user, nil
}

const categoryColumns = `id, name, description, is_default, active, created_at, updated_at`

func scanCategory(row pgx.Row) (models.Category, error) {
	var c models.Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.IsDefault, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *postgresRepository) CreateCategory(params CreateCategoryParams) (models.Category, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Category{}, errors.New("category name is required")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	now := nowUTC()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO categories (id, name, description, is_default, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+categoryColumns,
		uuid.NewString(), name, strings.TrimSpace(params.Description), params.IsDefault, params.Active, now)
	category, err := scanCategory(row)
	if err != nil {
		// The partial unique index on (is_default) WHERE is_default AND active
		// reports as 23505 just like the name index.
		return models.Category{}, conflictFromPgError(err, "name or default category")
	}
	return category, nil
}

func (r *postgresRepository) GetCategory(id string) (models.Category, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	category, err := scanCategory(row)
	if err != nil {
		return models.Category{}, false
	}
	return category, true
}

func (r *postgresRepository) ListCategories(includeInactive bool) []models.Category {
	ctx, cancel := r.queryContext()
	defer cancel()

	query := `SELECT ` + categoryColumns + ` FROM categories`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil
		}
		categories = append(categories, category)
	}
	return categories
}

func (r *postgresRepository) UpdateCategory(id string, update CategoryUpdate) (models.Category, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Category{}, fmt.Errorf("begin category update: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1 FOR UPDATE`, id)
	category, err := scanCategory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Category{}, ErrNotFound
	}
	if err != nil {
		return models.Category{}, fmt.Errorf("load category: %w", err)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Category{}, errors.New("category name cannot be empty")
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
	category.UpdatedAt = nowUTC()

	_, err = tx.Exec(ctx, `
		UPDATE categories SET name = $2, description = $3, is_default = $4, active = $5, updated_at = $6
		WHERE id = $1`,
		id, category.Name, category.Description, category.IsDefault, category.Active, category.UpdatedAt)
	if err != nil {
		return models.Category{}, conflictFromPgError(err, "name or default category")
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Category{}, fmt.Errorf("commit category update: %w", err)
	}
	return category, nil
}

const fileColumns = `id, display_name, content_type, metadata, uploader_id, category_id,
	content_id, dataset_id, provider_id, provider, size_bytes, visible, deleted, created_at, updated_at`

func scanFile(row pgx.Row) (models.FileRecord, error) {
	var f models.FileRecord
	var metadata []byte
	var provider []byte
	err := row.Scan(&f.ID, &f.DisplayName, &f.ContentType, &metadata, &f.UploaderID, &f.CategoryID,
		&f.ContentID, &f.DatasetID, &f.ProviderID, &provider, &f.SizeBytes, &f.Visible, &f.Deleted,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return models.FileRecord{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
			return models.FileRecord{}, fmt.Errorf("decode file metadata: %w", err)
		}
	}
	if f.Metadata.Groups == nil {
		f.Metadata.Groups = []models.MetadataGroup{}
	}
	if len(provider) > 0 {
		if err := json.Unmarshal(provider, &f.Provider); err != nil {
			return models.FileRecord{}, fmt.Errorf("decode provider snapshot: %w", err)
		}
	}
	return f, nil
}

// CreateFiles inserts all records in one transaction so a batch never lands
// partially.
func (r *postgresRepository) CreateFiles(params []CreateFileParams) ([]models.FileRecord, error) {
	if len(params) == 0 {
		return nil, errors.New("no file records to create")
	}

	ctx, cancel := r.queryContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin file insert: %w", err)
	}
	defer tx.Rollback(ctx)

	now := nowUTC()
	records := make([]models.FileRecord, 0, len(params))
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
		metadata, err := json.Marshal(record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode file metadata: %w", err)
		}
		provider, err := json.Marshal(record.Provider)
		if err != nil {
			return nil, fmt.Errorf("encode provider snapshot: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO files (id, display_name, content_type, metadata, uploader_id, category_id,
				content_id, dataset_id, provider_id, provider, size_bytes, visible, deleted, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13, $13)`,
			record.ID, record.DisplayName, record.ContentType, metadata, record.UploaderID,
			nullableString(record.CategoryID), record.ContentID, record.DatasetID,
			record.ProviderID, provider, record.SizeBytes, record.Visible, now)
		if err != nil {
			return nil, fmt.Errorf("insert file record: %w", err)
		}
		records = append(records, record)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit file insert: %w", err)
	}
	return records, nil
}

func (r *postgresRepository) GetFile(id string) (models.FileRecord, bool) {
	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1 AND NOT deleted`, id)
	file, err := scanFile(row)
	if err != nil {
		return models.FileRecord{}, false
	}
	return file, true
}

func (r *postgresRepository) ListFiles(filter FileFilter) ([]models.FileRecord, int, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	where := []string{"NOT deleted"}
	args := []any{}
	if filter.VisibleOnly {
		where = append(where, "visible")
	}
	if filter.UploaderID != "" {
		args = append(args, filter.UploaderID)
		where = append(where, fmt.Sprintf("uploader_id = $%d", len(args)))
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	ctx, cancel := r.queryContext()
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM files WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM files WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		fileColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]models.FileRecord, 0, pageSize)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, file)
	}
	return files, total, rows.Err()
}

func (r *postgresRepository) SetFileVisibility(id string, visible bool) (models.FileRecord, error) {
	ctx, cancel := r.queryContext()
	defer cancel()

	row := r.pool.QueryRow(ctx, `
		UPDATE files SET visible = $2, updated_at = $3
		WHERE id = $1 AND NOT deleted
		RETURNING `+fileColumns, id, visible, nowUTC())
	file, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FileRecord{}, ErrNotFound
	}
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("update file visibility: %w", err)
	}
	return file, nil
}

func (r *postgresRepository) DeleteFile(id string) error {
	ctx, cancel := r.queryContext()
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE files SET deleted = TRUE, updated_at = $2
		WHERE id = $1 AND NOT deleted`, id, nowUTC())
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
