package model

import "time"

// Source is a saved, named database connection that requests can refer to
// instead of sending connection details inline.
type Source struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Label    string `json:"label" db:"label"`
	Driver   string `json:"driver" db:"driver"` // sqlite, duckdb, mysql, postgres, mssql, snowflake, mongo
	DSN      string `json:"dsn,omitempty" db:"dsn"`
	Path     string `json:"path,omitempty" db:"path"`
	Host     string `json:"host,omitempty" db:"host"`
	Port     int    `json:"port,omitempty" db:"port"`
	User     string `json:"user,omitempty" db:"username"`
	Password string `json:"password,omitempty" db:"password"`
	Database string `json:"database,omitempty" db:"database_name"`
	Schema   string `json:"schema,omitempty" db:"schema_name"`

	// AllowMutations overrides the global setting for this source only.
	AllowMutations bool       `json:"allow_mutations" db:"allow_mutations"`
	Pool           PoolConfig `json:"pool"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Networked reports whether the source talks to a database server rather
// than a local file.
func (s Source) Networked() bool {
	switch s.Driver {
	case "sqlite", "duckdb":
		return false
	}
	return true
}

// PoolConfig controls the shared connection pool of a networked source.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a source connection pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}
