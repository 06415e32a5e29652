package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			driver TEXT NOT NULL,
			dsn TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			database_name TEXT NOT NULL DEFAULT '',
			schema_name TEXT NOT NULL DEFAULT '',
			allow_mutations INTEGER NOT NULL DEFAULT 0,
			max_open_conns INTEGER NOT NULL DEFAULT 10,
			max_idle_conns INTEGER NOT NULL DEFAULT 2,
			conn_max_lifetime_ms INTEGER NOT NULL DEFAULT 300000,
			conn_max_idle_time_ms INTEGER NOT NULL DEFAULT 60000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL DEFAULT '',
			driver TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			statement TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error_rule TEXT NOT NULL DEFAULT '',
			row_count INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at)`,

		// v2: key-value settings (generated signing secret)
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		// v3: remember whether a result was cut at the row cap
		`ALTER TABLE history ADD COLUMN truncated INTEGER NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
