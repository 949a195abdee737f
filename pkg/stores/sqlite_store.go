package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/compconf/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultListLimit applies when a list call passes a non-positive limit.
const DefaultListLimit = 100

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens its own database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// UpsertComponent inserts a component or updates its last known configuration.
// CreatedAt is kept from the first insert.
func (s *SQLiteStore) UpsertComponent(ctx context.Context, c *ComponentRecord) error {
	query := `
		INSERT INTO components (id, definition, name, type, properties, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			definition = excluded.definition,
			name = excluded.name,
			type = excluded.type,
			properties = excluded.properties,
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Properties == "" {
		c.Properties = "{}"
	}

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.Definition,
		c.Name,
		c.Type,
		c.Properties,
		c.Status,
		c.CreatedAt.UTC(),
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert component: %w", err)
	}

	return nil
}

// GetComponent retrieves a component by ID
func (s *SQLiteStore) GetComponent(ctx context.Context, id string) (*ComponentRecord, error) {
	query := `
		SELECT id, definition, name, type, properties, status, created_at, updated_at
		FROM components
		WHERE id = ?
	`

	c := &ComponentRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Definition,
		&c.Name,
		&c.Type,
		&c.Properties,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("component not found: "+id, nil).WithResource(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get component: %w", err)
	}

	return c, nil
}

// ListComponents lists components ordered by ID, optionally for one definition.
func (s *SQLiteStore) ListComponents(ctx context.Context, definition *string, limit, offset int) ([]*ComponentRecord, error) {
	query := `
		SELECT id, definition, name, type, properties, status, created_at, updated_at
		FROM components
		WHERE (? IS NULL OR definition = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, query, definition, definition, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	components := []*ComponentRecord{}
	for rows.Next() {
		c := &ComponentRecord{}
		err := rows.Scan(
			&c.ID,
			&c.Definition,
			&c.Name,
			&c.Type,
			&c.Properties,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		components = append(components, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	return components, nil
}

// DeleteComponent deletes a component and its validation history.
func (s *SQLiteStore) DeleteComponent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete component: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return engine.NewNotFoundError("component not found: "+id, nil).WithResource(id)
	}

	return nil
}

// RecordValidation appends a validation record. The component must exist and
// its status is updated in the same transaction.
func (s *SQLiteStore) RecordValidation(ctx context.Context, r *ValidationRecord) error {
	if r.ID == "" {
		return fmt.Errorf("validation record id is required")
	}
	if r.Results == "" {
		r.Results = "[]"
	}
	r.CreatedAt = time.Now().UTC()
	if r.ValidatedAt.IsZero() {
		r.ValidatedAt = r.CreatedAt
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE components SET status = ?, updated_at = ? WHERE id = ?`,
		r.Status, r.CreatedAt, r.ComponentID)
	if err != nil {
		return fmt.Errorf("failed to update component status: %w", err)
	}
	if rows, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if rows == 0 {
		return engine.NewNotFoundError("component not found: "+r.ComponentID, nil).WithResource(r.ComponentID)
	}

	query := `
		INSERT INTO validation_records (
			id, component_id, definition, status, result_count, results, duration_ns, validated_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		r.ID,
		r.ComponentID,
		r.Definition,
		r.Status,
		r.ResultCount,
		r.Results,
		int64(r.Duration),
		r.ValidatedAt.UTC(),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record validation: %w", err)
	}

	return tx.Commit()
}

const validationColumns = `id, component_id, definition, status, result_count, results, duration_ns, validated_at, created_at`

func scanValidation(row interface{ Scan(...any) error }) (*ValidationRecord, error) {
	r := &ValidationRecord{}
	err := row.Scan(
		&r.ID,
		&r.ComponentID,
		&r.Definition,
		&r.Status,
		&r.ResultCount,
		&r.Results,
		&r.Duration,
		&r.ValidatedAt,
		&r.CreatedAt,
	)
	return r, err
}

// GetValidation retrieves a validation record by ID
func (s *SQLiteStore) GetValidation(ctx context.Context, id string) (*ValidationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validation_records WHERE id = ?`, id)
	r, err := scanValidation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("validation record not found: "+id, nil).WithResource(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validation record: %w", err)
	}
	return r, nil
}

// LatestValidation returns the most recent validation record of a component.
func (s *SQLiteStore) LatestValidation(ctx context.Context, componentID string) (*ValidationRecord, error) {
	query := `SELECT ` + validationColumns + `
		FROM validation_records
		WHERE component_id = ?
		ORDER BY validated_at DESC, rowid DESC
		LIMIT 1
	`
	r, err := scanValidation(s.db.QueryRowContext(ctx, query, componentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("no validation recorded for component "+componentID, nil).WithResource(componentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest validation: %w", err)
	}
	return r, nil
}

// ListValidations lists validation records newest first.
func (s *SQLiteStore) ListValidations(ctx context.Context, f ValidationFilter) ([]*ValidationRecord, error) {
	query := `SELECT ` + validationColumns + `
		FROM validation_records
		WHERE (? IS NULL OR component_id = ?)
		  AND (? IS NULL OR definition = ?)
		  AND (? IS NULL OR status = ?)
		  AND (? IS NULL OR validated_at >= ?)
		ORDER BY validated_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var since *time.Time
	if f.Since != nil {
		t := f.Since.UTC()
		since = &t
	}

	rows, err := s.db.QueryContext(ctx, query,
		f.ComponentID, f.ComponentID,
		f.Definition, f.Definition,
		f.Status, f.Status,
		since, since,
		limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list validations: %w", err)
	}
	defer rows.Close()

	records := []*ValidationRecord{}
	for rows.Next() {
		r, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validation record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validation records: %w", err)
	}

	return records, nil
}

// PruneValidations deletes validation records older than before and returns
// how many were removed.
func (s *SQLiteStore) PruneValidations(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM validation_records WHERE validated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune validations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
