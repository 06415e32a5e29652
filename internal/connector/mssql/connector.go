package mssql

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// MSSQLConnector implements connector.Connector for Microsoft SQL Server.
type MSSQLConnector struct {
	connector.SQLConn
	schemaName string
}

// New creates a new MSSQLConnector with default settings. go-mssqldb has no
// read-only transactions, so queries run directly.
func New() connector.Connector {
	return &MSSQLConnector{schemaName: "dbo"}
}

// Connect opens a private pool for spec.
func (c *MSSQLConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	shared, err := c.OpenShared(ctx, spec)
	if err != nil {
		return err
	}
	c.Own(shared.(*connector.SQLPool).DB, spec)
	c.useSchema(spec)
	return nil
}

// OpenShared opens the pool the Registry shares between requests.
func (c *MSSQLConnector) OpenShared(ctx context.Context, spec connector.ConnectionSpec) (connector.Shared, error) {
	dsn, err := BuildDSN(spec)
	if err != nil {
		return nil, err
	}
	db, err := connector.OpenSQL(ctx, "sqlserver", dsn, spec.Pool)
	if err != nil {
		return nil, fmt.Errorf("mssql connect: %w", err)
	}
	return &connector.SQLPool{DB: db}, nil
}

// Attach borrows a shared pool.
func (c *MSSQLConnector) Attach(shared connector.Shared, spec connector.ConnectionSpec) error {
	if err := c.SQLConn.Attach(shared, spec); err != nil {
		return err
	}
	c.useSchema(spec)
	return nil
}

func (c *MSSQLConnector) useSchema(spec connector.ConnectionSpec) {
	if spec.Schema != "" {
		c.schemaName = spec.Schema
	}
}

// BuildDSN renders spec as a sqlserver:// URL with the database as a query
// parameter.
func BuildDSN(spec connector.ConnectionSpec) (string, error) {
	var u *url.URL
	if spec.DSN != "" {
		parsed, err := url.Parse(connector.SanitizeDSN("mssql", spec.DSN))
		if err != nil || parsed.Scheme != "sqlserver" {
			return "", fmt.Errorf("mssql: invalid DSN, expected sqlserver://")
		}
		u = parsed
	} else {
		if spec.Host == "" {
			return "", fmt.Errorf("mssql: host is required")
		}
		port := spec.Port
		if port == 0 {
			port = 1433
		}
		u = &url.URL{Scheme: "sqlserver", Host: net.JoinHostPort(spec.Host, strconv.Itoa(port))}
		if spec.User != "" {
			u.User = url.UserPassword(spec.User, spec.Password)
		}
	}

	q := u.Query()
	if spec.Database != "" {
		q.Set("database", spec.Database)
	}
	for k, v := range spec.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Execute runs a validated statement with the row cap applied.
func (c *MSSQLConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	return c.Run(ctx, stmt, rowLimit)
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

// QuoteIdentifier wraps a SQL identifier in square brackets, escaping any
// embedded closing brackets.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// CaseInsensitive is true under the default collations.
func (c *MSSQLConnector) CaseInsensitive() bool { return true }

// IsSystemTable reports tables SQL Server creates for its own use.
func (c *MSSQLConnector) IsSystemTable(name string) bool {
	lower := strings.ToLower(name)
	return lower == "sysdiagrams" || strings.HasPrefix(lower, "sys")
}
