package config

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

// Store persists saved sources, request history and a few generated
// settings in a local SQLite database.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new config store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "nl2sql.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open config database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate config database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// sourceRow maps 1:1 to the sources table. model.Source nests its pool
// settings, which sqlx cannot scan into directly.
type sourceRow struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	Label             string    `db:"label"`
	Driver            string    `db:"driver"`
	DSN               string    `db:"dsn"`
	Path              string    `db:"path"`
	Host              string    `db:"host"`
	Port              int       `db:"port"`
	Username          string    `db:"username"`
	Password          string    `db:"password"`
	DatabaseName      string    `db:"database_name"`
	SchemaName        string    `db:"schema_name"`
	AllowMutations    bool      `db:"allow_mutations"`
	MaxOpenConns      int       `db:"max_open_conns"`
	MaxIdleConns      int       `db:"max_idle_conns"`
	ConnMaxLifetimeMs int64     `db:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMs int64     `db:"conn_max_idle_time_ms"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func sourceRowFromModel(src *model.Source) sourceRow {
	return sourceRow{
		ID:                src.ID,
		Name:              src.Name,
		Label:             src.Label,
		Driver:            src.Driver,
		DSN:               src.DSN,
		Path:              src.Path,
		Host:              src.Host,
		Port:              src.Port,
		Username:          src.User,
		Password:          src.Password,
		DatabaseName:      src.Database,
		SchemaName:        src.Schema,
		AllowMutations:    src.AllowMutations,
		MaxOpenConns:      src.Pool.MaxOpenConns,
		MaxIdleConns:      src.Pool.MaxIdleConns,
		ConnMaxLifetimeMs: src.Pool.ConnMaxLifetime.Milliseconds(),
		ConnMaxIdleTimeMs: src.Pool.ConnMaxIdleTime.Milliseconds(),
		CreatedAt:         src.CreatedAt,
		UpdatedAt:         src.UpdatedAt,
	}
}

func (r sourceRow) toModel() model.Source {
	return model.Source{
		ID:             r.ID,
		Name:           r.Name,
		Label:          r.Label,
		Driver:         r.Driver,
		DSN:            r.DSN,
		Path:           r.Path,
		Host:           r.Host,
		Port:           r.Port,
		User:           r.Username,
		Password:       r.Password,
		Database:       r.DatabaseName,
		Schema:         r.SchemaName,
		AllowMutations: r.AllowMutations,
		Pool: model.PoolConfig{
			MaxOpenConns:    r.MaxOpenConns,
			MaxIdleConns:    r.MaxIdleConns,
			ConnMaxLifetime: time.Duration(r.ConnMaxLifetimeMs) * time.Millisecond,
			ConnMaxIdleTime: time.Duration(r.ConnMaxIdleTimeMs) * time.Millisecond,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// CreateSource inserts a new source. The ID, CreatedAt, and UpdatedAt fields
// on src are populated after a successful insert. A zero pool takes
// model.DefaultPoolConfig.
func (s *Store) CreateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	if src.Pool == (model.PoolConfig{}) {
		src.Pool = model.DefaultPoolConfig()
	}

	const q = `INSERT INTO sources
		(name, label, driver, dsn, path, host, port, username, password, database_name, schema_name,
		 allow_mutations, max_open_conns, max_idle_conns, conn_max_lifetime_ms, conn_max_idle_time_ms,
		 created_at, updated_at)
		VALUES
		(:name, :label, :driver, :dsn, :path, :host, :port, :username, :password, :database_name, :schema_name,
		 :allow_mutations, :max_open_conns, :max_idle_conns, :conn_max_lifetime_ms, :conn_max_idle_time_ms,
		 :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, sourceRowFromModel(src))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source %q: %w", src.Name, ErrConflict)
		}
		return fmt.Errorf("insert source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get source id: %w", err)
	}
	src.ID = id
	return nil
}

// GetSource returns a source by its unique name.
func (s *Store) GetSource(ctx context.Context, name string) (*model.Source, error) {
	var row sourceRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM sources WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	src := row.toModel()
	return &src, nil
}

// ListSources returns all saved sources ordered by name.
func (s *Store) ListSources(ctx context.Context) ([]model.Source, error) {
	var rows []sourceRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM sources ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	sources := make([]model.Source, len(rows))
	for i, r := range rows {
		sources[i] = r.toModel()
	}
	return sources, nil
}

// UpdateSource replaces the source with src.ID. The UpdatedAt field on src
// is refreshed automatically.
func (s *Store) UpdateSource(ctx context.Context, src *model.Source) error {
	src.UpdatedAt = time.Now().UTC()

	const q = `UPDATE sources SET
		name = :name, label = :label, driver = :driver, dsn = :dsn, path = :path, host = :host,
		port = :port, username = :username, password = :password, database_name = :database_name,
		schema_name = :schema_name, allow_mutations = :allow_mutations,
		max_open_conns = :max_open_conns, max_idle_conns = :max_idle_conns,
		conn_max_lifetime_ms = :conn_max_lifetime_ms, conn_max_idle_time_ms = :conn_max_idle_time_ms,
		updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, sourceRowFromModel(src))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source %q: %w", src.Name, ErrConflict)
		}
		return fmt.Errorf("update source: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update source rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertSource creates src, or replaces the saved source of the same name.
func (s *Store) UpsertSource(ctx context.Context, src *model.Source) error {
	existing, err := s.GetSource(ctx, src.Name)
	if errors.Is(err, ErrNotFound) {
		return s.CreateSource(ctx, src)
	}
	if err != nil {
		return err
	}
	src.ID = existing.ID
	src.CreatedAt = existing.CreatedAt
	if src.Pool == (model.PoolConfig{}) {
		src.Pool = existing.Pool
	}
	return s.UpdateSource(ctx, src)
}

// DeleteSource removes a source by name.
func (s *Store) DeleteSource(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete source rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// RecordHistory stores the outcome of one request. CreatedAt defaults to
// now. When keep is positive, only the newest keep records are retained.
func (s *Store) RecordHistory(ctx context.Context, rec *model.HistoryRecord, keep int) error {
	if rec.ID == "" {
		return errors.New("history record needs a request id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO history
		(id, source, driver, question, provider, statement, stage, error_kind, error_rule,
		 row_count, truncated, duration_ms, created_at)
		VALUES
		(:id, :source, :driver, :question, :provider, :statement, :stage, :error_kind, :error_rule,
		 :row_count, :truncated, :duration_ms, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if keep > 0 {
		const prune = `DELETE FROM history WHERE id NOT IN
			(SELECT id FROM history ORDER BY created_at DESC, id DESC LIMIT ?)`
		if _, err := s.db.ExecContext(ctx, prune, keep); err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}
	return nil
}

// RecordOutcome fills the stage, error and duration fields of rec from the
// request's final error and start time, then stores it like RecordHistory.
func (s *Store) RecordOutcome(ctx context.Context, rec *model.HistoryRecord, err error, start time.Time, keep int) error {
	rec.Stage = string(pipeline.Outcome(err))
	if err != nil {
		rec.ErrorKind = string(apperr.KindOf(err))
		rec.ErrorRule = apperr.RuleOf(err)
	}
	rec.DurationMs = time.Since(start).Milliseconds()
	return s.RecordHistory(ctx, rec, keep)
}

// GetHistory returns one history record by request id.
func (s *Store) GetHistory(ctx context.Context, id string) (*model.HistoryRecord, error) {
	var rec model.HistoryRecord
	if err := s.db.GetContext(ctx, &rec, "SELECT * FROM history WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &rec, nil
}

// HistoryFilter narrows ListHistory. Zero fields match everything.
type HistoryFilter struct {
	Source string
	Stage  string
	Limit  int
}

// ListHistory returns history records, newest first.
func (s *Store) ListHistory(ctx context.Context, f HistoryFilter) ([]model.HistoryRecord, error) {
	q := "SELECT * FROM history WHERE 1=1"
	var args []any
	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Stage != "" {
		q += " AND stage = ?"
		args = append(args, f.Stage)
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	records := []model.HistoryRecord{}
	if err := s.db.SelectContext(ctx, &records, q, args...); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns a stored setting, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a setting, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// SigningSecretKey names the setting that holds the generated JWT secret.
const SigningSecretKey = "auth.generated_secret"

// SigningSecret returns the persisted token signing secret, generating one
// on first use. It is used when auth.jwt_secret is not configured.
func (s *Store) SigningSecret(ctx context.Context) (string, error) {
	secret, err := s.GetSetting(ctx, SigningSecretKey)
	if err == nil && secret != "" {
		return secret, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	secret = hex.EncodeToString(b)
	if err := s.SetSetting(ctx, SigningSecretKey, secret); err != nil {
		return "", err
	}
	return secret, nil
}

// ResolveSecret returns the configured signing secret, or the store's
// generated one when none is configured.
func (s *Store) ResolveSecret(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	return s.SigningSecret(ctx)
}
