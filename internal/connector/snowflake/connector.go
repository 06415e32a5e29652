package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// keyPathParam is the DSN query parameter (or spec option) naming a PEM
// private key. It switches authentication to key-pair JWT.
const keyPathParam = "private_key_path"

// SnowflakeConnector implements connector.Connector for Snowflake warehouses.
type SnowflakeConnector struct {
	connector.SQLConn
	schemaName string
}

// New creates a new SnowflakeConnector with default settings. Snowflake has
// no read-only transactions, so mutation blocking relies on the validator.
func New() connector.Connector {
	return &SnowflakeConnector{schemaName: "PUBLIC"}
}

// Connect opens a private pool for spec.
func (c *SnowflakeConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	shared, err := c.OpenShared(ctx, spec)
	if err != nil {
		return err
	}
	c.Own(shared.(*connector.SQLPool).DB, spec)
	return c.useSchema(spec)
}

// OpenShared opens the pool the Registry shares between requests.
func (c *SnowflakeConnector) OpenShared(ctx context.Context, spec connector.ConnectionSpec) (connector.Shared, error) {
	dsn, err := BuildDSN(spec)
	if err != nil {
		return nil, err
	}
	db, err := connector.OpenSQL(ctx, "snowflake", dsn, spec.Pool)
	if err != nil {
		return nil, fmt.Errorf("snowflake connect: %w", err)
	}
	return &connector.SQLPool{DB: db}, nil
}

// Attach borrows a shared pool.
func (c *SnowflakeConnector) Attach(shared connector.Shared, spec connector.ConnectionSpec) error {
	if err := c.SQLConn.Attach(shared, spec); err != nil {
		return err
	}
	return c.useSchema(spec)
}

func (c *SnowflakeConnector) useSchema(spec connector.ConnectionSpec) error {
	cfg, _, err := parseConfig(spec)
	if err != nil {
		return err
	}
	if cfg.Schema != "" {
		c.schemaName = cfg.Schema
	}
	if strings.EqualFold(c.schemaName, "information_schema") {
		return fmt.Errorf("snowflake: system schema %q cannot be used as a source", c.schemaName)
	}
	return nil
}

// BuildDSN renders spec as a gosnowflake DSN. Host is the account
// identifier. The warehouse and role options (or DSN parameters) pick the
// session context; private_key_path switches to key-pair authentication.
func BuildDSN(spec connector.ConnectionSpec) (string, error) {
	cfg, keyPath, err := parseConfig(spec)
	if err != nil {
		return "", err
	}
	if keyPath != "" {
		key, err := loadPrivateKey(keyPath)
		if err != nil {
			return "", err
		}
		cfg.Password = ""
		cfg.Authenticator = gosnowflake.AuthTypeJwt
		cfg.PrivateKey = key
	}
	dsn, err := gosnowflake.DSN(cfg)
	if err != nil {
		return "", fmt.Errorf("snowflake: build DSN: %w", err)
	}
	return dsn, nil
}

// parseConfig resolves spec into a driver config plus the private key path,
// if any. Explicit spec fields override the DSN.
func parseConfig(spec connector.ConnectionSpec) (*gosnowflake.Config, string, error) {
	keyPath := spec.Options[keyPathParam]

	var cfg *gosnowflake.Config
	if spec.DSN != "" {
		dsn, fromDSN := splitKeyPath(spec.DSN)
		if keyPath == "" {
			keyPath = fromDSN
		}
		parsed, err := gosnowflake.ParseDSN(dsn)
		// ParseDSN insists on a password even when a key will replace it.
		if err != nil && keyPath != "" && strings.Contains(err.Error(), "password is empty") {
			if at := strings.Index(dsn, "@"); at > 0 && !strings.Contains(dsn[:at], ":") {
				dsn = dsn[:at] + ":_" + dsn[at:]
			}
			parsed, err = gosnowflake.ParseDSN(dsn)
		}
		if err != nil {
			return nil, "", fmt.Errorf("snowflake: invalid DSN")
		}
		cfg = parsed
	} else {
		if spec.Host == "" {
			return nil, "", fmt.Errorf("snowflake: account (host) is required")
		}
		cfg = &gosnowflake.Config{
			Account:  spec.Host,
			Port:     spec.Port,
			User:     spec.User,
			Password: spec.Password,
		}
	}

	if spec.Database != "" {
		cfg.Database = spec.Database
	}
	if spec.Schema != "" {
		cfg.Schema = spec.Schema
	}
	if v := spec.Options["warehouse"]; v != "" {
		cfg.Warehouse = v
	}
	if v := spec.Options["role"]; v != "" {
		cfg.Role = v
	}
	return cfg, keyPath, nil
}

// splitKeyPath removes the private key parameter from a DSN's query string.
func splitKeyPath(dsn string) (string, string) {
	base, rawQuery, ok := strings.Cut(dsn, "?")
	if !ok {
		return dsn, ""
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil || !q.Has(keyPathParam) {
		return dsn, ""
	}
	path := q.Get(keyPathParam)
	q.Del(keyPathParam)
	if len(q) == 0 {
		return base, path
	}
	return base + "?" + q.Encode(), path
}

// loadPrivateKey reads a PEM-encoded RSA key in PKCS#1 or PKCS#8 form.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file %q: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}

	var key any
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA (got %T)", key)
	}
	return rsaKey, nil
}

// Execute runs a validated statement with the row cap applied.
func (c *SnowflakeConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	return c.Run(ctx, stmt, rowLimit)
}

// DriverName returns the driver identifier for Snowflake.
func (c *SnowflakeConnector) DriverName() string { return "snowflake" }

// QuoteIdentifier wraps a SQL identifier in double quotes, escaping any
// embedded double quotes.
func (c *SnowflakeConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CaseInsensitive is true: unquoted identifiers fold to upper case.
func (c *SnowflakeConnector) CaseInsensitive() bool { return true }

// IsSystemTable is false; INFORMATION_SCHEMA is rejected at connect time.
func (c *SnowflakeConnector) IsSystemTable(string) bool { return false }
