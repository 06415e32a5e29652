package mysql

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// systemSchemas are never introspected.
var systemSchemas = map[string]bool{
	"mysql": true, "information_schema": true, "performance_schema": true, "sys": true,
}

// MySQLConnector implements connector.Connector for MySQL and MariaDB.
type MySQLConnector struct {
	connector.SQLConn
	schemaName string
}

// New creates a new MySQLConnector with default settings.
func New() connector.Connector {
	c := &MySQLConnector{}
	c.ReadOnlyTx = true
	return c
}

// Connect opens a private pool for spec. Pooled use goes through
// OpenShared and Attach instead.
func (c *MySQLConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	shared, err := c.OpenShared(ctx, spec)
	if err != nil {
		return err
	}
	c.Own(shared.(*connector.SQLPool).DB, spec)
	return c.resolveSchema(ctx)
}

// OpenShared opens the pool the Registry shares between requests.
func (c *MySQLConnector) OpenShared(ctx context.Context, spec connector.ConnectionSpec) (connector.Shared, error) {
	dsn, err := BuildDSN(spec)
	if err != nil {
		return nil, err
	}
	db, err := connector.OpenSQL(ctx, "mysql", dsn, spec.Pool)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	return &connector.SQLPool{DB: db}, nil
}

// Attach borrows a shared pool.
func (c *MySQLConnector) Attach(shared connector.Shared, spec connector.ConnectionSpec) error {
	if err := c.SQLConn.Attach(shared, spec); err != nil {
		return err
	}
	return c.resolveSchema(context.Background())
}

// resolveSchema picks the database to introspect: the spec's, else the
// connection's current database.
func (c *MySQLConnector) resolveSchema(ctx context.Context) error {
	c.schemaName = c.Spec.Database
	if c.schemaName == "" {
		if cfg, err := mysqldriver.ParseDSN(connector.SanitizeDSN("mysql", c.Spec.DSN)); err == nil {
			c.schemaName = cfg.DBName
		}
	}
	if c.schemaName == "" {
		var dbName *string
		if err := c.DB.GetContext(ctx, &dbName, "SELECT DATABASE()"); err == nil && dbName != nil {
			c.schemaName = *dbName
		}
	}
	if c.schemaName == "" {
		return fmt.Errorf("mysql: no database selected")
	}
	if systemSchemas[strings.ToLower(c.schemaName)] {
		return fmt.Errorf("mysql: system database %q cannot be used as a source", c.schemaName)
	}
	return nil
}

// BuildDSN renders spec into go-sql-driver form. An explicit DSN is
// sanitized first; otherwise the host parts are assembled. parseTime is
// always on so DATETIME values arrive as time.Time.
func BuildDSN(spec connector.ConnectionSpec) (string, error) {
	var cfg *mysqldriver.Config
	if spec.DSN != "" {
		parsed, err := mysqldriver.ParseDSN(connector.SanitizeDSN("mysql", spec.DSN))
		if err != nil {
			return "", fmt.Errorf("mysql: invalid DSN")
		}
		cfg = parsed
	} else {
		if spec.Host == "" {
			return "", fmt.Errorf("mysql: host is required")
		}
		port := spec.Port
		if port == 0 {
			port = 3306
		}
		cfg = mysqldriver.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(spec.Host, strconv.Itoa(port))
		cfg.User = spec.User
		cfg.Passwd = spec.Password
		cfg.DBName = spec.Database
	}
	if spec.Database != "" {
		cfg.DBName = spec.Database
	}
	cfg.ParseTime = true
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	for k, v := range spec.Options {
		cfg.Params[k] = v
	}
	return cfg.FormatDSN(), nil
}

// Execute runs a validated statement with the row cap applied. Queries run
// in a read-only transaction unless mutations are allowed.
func (c *MySQLConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	return c.Run(ctx, stmt, rowLimit)
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// QuoteIdentifier wraps a SQL identifier in backticks, escaping any
// embedded backticks.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CaseInsensitive is true: table names are folded on most installations
// and column names always compare without case.
func (c *MySQLConnector) CaseInsensitive() bool { return true }

// IsSystemTable is false for every table in a user database; system
// databases are rejected at connect time.
func (c *MySQLConnector) IsSystemTable(string) bool { return false }
