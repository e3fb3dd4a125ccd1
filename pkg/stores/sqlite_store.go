// Package stores persists component instance state and run records in
// an embedded SQLite database. The reconciler consults the stored
// instances for resource identity; the executor writes props back after
// each successful operation.
package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stackform/stackform/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteStore implements engine.StateStore on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// NewSQLiteStore creates a store instance. Call Init and Migrate before
// use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

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

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Migrate runs the embedded schema migrations.
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveInstance inserts or updates an instance record, keyed by name.
func (s *SQLiteStore) SaveInstance(ctx context.Context, instance *engine.ComponentInstance) error {
	fields, err := marshalJSON(instance.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	props, err := marshalJSON(instance.Props)
	if err != nil {
		return fmt.Errorf("failed to encode props: %w", err)
	}
	links, err := marshalJSON(instance.Links)
	if err != nil {
		return fmt.Errorf("failed to encode links: %w", err)
	}
	tags, err := marshalJSON(instance.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	query := `
		INSERT INTO instances (name, id, type, resource_id, fields, props, links, tags, status, decl_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			id = excluded.id,
			type = excluded.type,
			resource_id = excluded.resource_id,
			fields = excluded.fields,
			props = excluded.props,
			links = excluded.links,
			tags = excluded.tags,
			status = excluded.status,
			decl_order = excluded.decl_order,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		instance.Name,
		instance.ID,
		instance.Type,
		instance.ResourceID,
		fields,
		props,
		links,
		tags,
		string(instance.Status),
		instance.DeclOrder,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.Name, err)
	}
	return nil
}

// GetInstance returns the stored instance with the given name.
func (s *SQLiteStore) GetInstance(ctx context.Context, name string) (*engine.ComponentInstance, error) {
	query := `
		SELECT name, id, type, resource_id, fields, props, links, tags, status, decl_order
		FROM instances
		WHERE name = ?
	`
	instance, err := scanInstance(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", name, err)
	}
	return instance, nil
}

// ListInstances returns all stored instances in declaration order.
func (s *SQLiteStore) ListInstances(ctx context.Context) ([]*engine.ComponentInstance, error) {
	query := `
		SELECT name, id, type, resource_id, fields, props, links, tags, status, decl_order
		FROM instances
		ORDER BY decl_order, name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*engine.ComponentInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// DeleteInstance removes an instance record.
func (s *SQLiteStore) DeleteInstance(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	return nil
}

// SaveRun inserts or updates a run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.Run) error {
	results, err := marshalJSON(run.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	var completedAt *time.Time
	if !run.CompletedAt.IsZero() {
		completedAt = &run.CompletedAt
	}

	query := `
		INSERT INTO runs (id, plan_id, status, started_at, completed_at, results, succeeded, failed, blocked, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			results = excluded.results,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			blocked = excluded.blocked,
			cancelled = excluded.cancelled
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.PlanID,
		string(run.Status),
		run.StartedAt,
		completedAt,
		results,
		run.Summary.Succeeded,
		run.Summary.Failed,
		run.Summary.Blocked,
		run.Summary.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns the run with the given ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	query := `
		SELECT id, plan_id, status, started_at, completed_at, results, succeeded, failed, blocked, cancelled
		FROM runs
		WHERE id = ?
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns stored runs, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*engine.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, plan_id, status, started_at, completed_at, results, succeeded, failed, blocked, cancelled
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row scanner) (*engine.ComponentInstance, error) {
	var (
		instance engine.ComponentInstance
		status   string
		fields   []byte
		props    sql.NullString
		links    sql.NullString
		tags     sql.NullString
	)

	err := row.Scan(
		&instance.Name,
		&instance.ID,
		&instance.Type,
		&instance.ResourceID,
		&fields,
		&props,
		&links,
		&tags,
		&status,
		&instance.DeclOrder,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = engine.InstanceStatus(status)
	if err := json.Unmarshal(fields, &instance.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	if err := unmarshalNullable(props, &instance.Props); err != nil {
		return nil, fmt.Errorf("failed to decode props: %w", err)
	}
	if err := unmarshalNullable(links, &instance.Links); err != nil {
		return nil, fmt.Errorf("failed to decode links: %w", err)
	}
	if err := unmarshalNullable(tags, &instance.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	return &instance, nil
}

func scanRun(row scanner) (*engine.Run, error) {
	var (
		run         engine.Run
		status      string
		completedAt sql.NullTime
		results     []byte
	)

	err := row.Scan(
		&run.ID,
		&run.PlanID,
		&status,
		&run.StartedAt,
		&completedAt,
		&results,
		&run.Summary.Succeeded,
		&run.Summary.Failed,
		&run.Summary.Blocked,
		&run.Summary.Cancelled,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	if err := json.Unmarshal(results, &run.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &run, nil
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalNullable[T any](value sql.NullString, target *T) error {
	if !value.Valid || value.String == "" || value.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(value.String), target)
}
