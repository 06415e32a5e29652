package duckdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// DuckDB files carry their magic number after an 8 byte checksum.
const (
	magicOffset = 8
	magic       = "DUCK"
)

// DuckDBConnector implements connector.Connector for DuckDB database files.
type DuckDBConnector struct {
	connector.SQLConn
	schemaName string
	tempPath   string
}

// New creates a new DuckDBConnector.
func New() connector.Connector {
	return &DuckDBConnector{schemaName: "main"}
}

// Connect opens the file named by spec.Path (or spec.DSN), staging
// spec.Data to a temp file first when set. The database is opened with
// access_mode=READ_ONLY unless mutations are allowed.
func (c *DuckDBConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	path := spec.Path
	if path == "" {
		path = spec.DSN
	}

	if len(spec.Data) > 0 {
		if len(spec.Data) < magicOffset+len(magic) ||
			!bytes.Equal(spec.Data[magicOffset:magicOffset+len(magic)], []byte(magic)) {
			return errors.New("uploaded file is not a DuckDB database")
		}
		tmp, err := connector.StageUpload(spec.Data, "nl2sql-upload-*.duckdb")
		if err != nil {
			return fmt.Errorf("duckdb stage upload: %w", err)
		}
		c.tempPath = tmp
		path = tmp
	}

	if path == "" {
		return errors.New("duckdb requires a database file path or uploaded data")
	}
	if _, err := os.Stat(path); err != nil {
		c.removeTemp()
		return fmt.Errorf("duckdb database file %q not found", path)
	}
	if spec.Schema != "" {
		c.schemaName = spec.Schema
	}

	dsn := path
	if !spec.AllowMutations {
		dsn += "?access_mode=READ_ONLY"
	}
	db, err := connector.OpenSQL(ctx, "duckdb", dsn, connector.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		c.removeTemp()
		return fmt.Errorf("duckdb connect: %w", err)
	}
	c.Own(db, spec)
	return nil
}

func (c *DuckDBConnector) removeTemp() {
	if c.tempPath != "" {
		os.Remove(c.tempPath)
		c.tempPath = ""
	}
}

// Disconnect closes the database and removes any staged upload.
func (c *DuckDBConnector) Disconnect() error {
	err := c.SQLConn.Disconnect()
	c.removeTemp()
	return err
}

// Execute runs a validated statement with the row cap applied.
func (c *DuckDBConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	return c.Run(ctx, stmt, rowLimit)
}

// DriverName returns the driver identifier for DuckDB.
func (c *DuckDBConnector) DriverName() string { return "duckdb" }

// QuoteIdentifier wraps a SQL identifier in double quotes.
func (c *DuckDBConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CaseInsensitive is true: DuckDB resolves identifiers without regard to
// case, quoted or not.
func (c *DuckDBConnector) CaseInsensitive() bool { return true }

// IsSystemTable reports DuckDB's catalog views.
func (c *DuckDBConnector) IsSystemTable(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "duckdb_") || strings.HasPrefix(lower, "sqlite_") || strings.HasPrefix(lower, "pg_")
}
