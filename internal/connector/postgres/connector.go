package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	connector.SQLConn
	schemaName string
}

// New creates a new PostgresConnector with default settings.
func New() connector.Connector {
	c := &PostgresConnector{schemaName: "public"}
	c.ReadOnlyTx = true
	return c
}

// Connect opens a private pool for spec.
func (c *PostgresConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	shared, err := c.OpenShared(ctx, spec)
	if err != nil {
		return err
	}
	c.Own(shared.(*connector.SQLPool).DB, spec)
	return c.useSchema(spec)
}

// OpenShared opens the pool the Registry shares between requests.
func (c *PostgresConnector) OpenShared(ctx context.Context, spec connector.ConnectionSpec) (connector.Shared, error) {
	dsn, err := BuildDSN(spec)
	if err != nil {
		return nil, err
	}
	db, err := connector.OpenSQL(ctx, "pgx", dsn, spec.Pool)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &connector.SQLPool{DB: db}, nil
}

// Attach borrows a shared pool.
func (c *PostgresConnector) Attach(shared connector.Shared, spec connector.ConnectionSpec) error {
	if err := c.SQLConn.Attach(shared, spec); err != nil {
		return err
	}
	return c.useSchema(spec)
}

func (c *PostgresConnector) useSchema(spec connector.ConnectionSpec) error {
	if spec.Schema != "" {
		c.schemaName = spec.Schema
	}
	switch lower := strings.ToLower(c.schemaName); {
	case lower == "information_schema", strings.HasPrefix(lower, "pg_"):
		return fmt.Errorf("postgres: system schema %q cannot be used as a source", c.schemaName)
	}
	return nil
}

// BuildDSN renders spec as a postgres:// URL. Options become query
// parameters (sslmode and friends).
func BuildDSN(spec connector.ConnectionSpec) (string, error) {
	if spec.DSN != "" {
		u, err := url.Parse(connector.SanitizeDSN("postgres", spec.DSN))
		if err != nil {
			return "", fmt.Errorf("postgres: invalid DSN")
		}
		if spec.Database != "" {
			u.Path = "/" + spec.Database
		}
		applyOptions(u, spec.Options)
		return u.String(), nil
	}

	if spec.Host == "" {
		return "", fmt.Errorf("postgres: host is required")
	}
	port := spec.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(spec.Host, strconv.Itoa(port)),
		Path:   "/" + spec.Database,
	}
	if spec.User != "" {
		u.User = url.UserPassword(spec.User, spec.Password)
	}
	applyOptions(u, spec.Options)
	return u.String(), nil
}

func applyOptions(u *url.URL, opts map[string]string) {
	if len(opts) == 0 {
		return
	}
	q := u.Query()
	for k, v := range opts {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
}

// Execute runs a validated statement with the row cap applied. Queries run
// in a read-only transaction unless mutations are allowed.
func (c *PostgresConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	return c.Run(ctx, stmt, rowLimit)
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CaseInsensitive is false: quoted identifiers keep their case.
func (c *PostgresConnector) CaseInsensitive() bool { return false }

// IsSystemTable is false; system schemas are rejected at connect time.
func (c *PostgresConnector) IsSystemTable(string) bool { return false }
