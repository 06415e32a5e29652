package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// fileHeader starts every SQLite 3 database file.
var fileHeader = []byte("SQLite format 3\x00")

// SQLiteConnector implements connector.Connector for SQLite database files,
// either on disk or uploaded as bytes.
type SQLiteConnector struct {
	connector.SQLConn
	tempPath string // set when the database came from uploaded bytes
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the database file named by spec.Path (or spec.DSN). When
// spec.Data is set the bytes are written to a private temp file first. The
// connection is query-only unless mutations are allowed.
func (c *SQLiteConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	path := spec.Path
	if path == "" {
		path = spec.DSN
	}

	if len(spec.Data) > 0 {
		if !bytes.HasPrefix(spec.Data, fileHeader) {
			return errors.New("uploaded file is not a SQLite database")
		}
		tmp, err := connector.StageUpload(spec.Data, "nl2sql-upload-*.sqlite")
		if err != nil {
			return fmt.Errorf("sqlite stage upload: %w", err)
		}
		c.tempPath = tmp
		path = tmp
	}

	if path == "" {
		return errors.New("sqlite requires a database file path or uploaded data")
	}
	if path != ":memory:" {
		// sqlite creates missing files; a typo should fail instead.
		if _, err := os.Stat(path); err != nil {
			c.removeTemp()
			return fmt.Errorf("sqlite database file %q not found", path)
		}
	}

	db, err := connector.OpenSQL(ctx, "sqlite", buildDSN(path, spec.AllowMutations),
		connector.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		c.removeTemp()
		return fmt.Errorf("sqlite connect: %w", err)
	}
	c.Own(db, spec)
	return nil
}

func buildDSN(path string, allowMutations bool) string {
	params := []string{"_pragma=busy_timeout(5000)"}
	if !allowMutations {
		params = append(params, "_pragma=query_only(1)")
	}
	return path + "?" + strings.Join(params, "&")
}

func (c *SQLiteConnector) removeTemp() {
	if c.tempPath != "" {
		os.Remove(c.tempPath)
		c.tempPath = ""
	}
}

// Disconnect closes the database and removes any staged upload. Safe to
// call more than once.
func (c *SQLiteConnector) Disconnect() error {
	err := c.SQLConn.Disconnect()
	c.removeTemp()
	return err
}

// Execute runs a validated statement with the row cap applied.
func (c *SQLiteConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	return c.Run(ctx, stmt, rowLimit)
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (c *SQLiteConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CaseInsensitive is false: SQLite matches table names without regard to
// ASCII case but reports them as declared, so names are kept as is.
func (c *SQLiteConnector) CaseInsensitive() bool { return false }

// IsSystemTable reports SQLite's internal tables.
func (c *SQLiteConnector) IsSystemTable(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "sqlite_")
}
