package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/sqlite"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// stubConnector reports a fixed schema.
type stubConnector struct {
	schema          *model.Schema
	err             error
	caseInsensitive bool
}

func (s *stubConnector) Connect(context.Context, connector.ConnectionSpec) error { return nil }
func (s *stubConnector) Disconnect() error                                       { return nil }
func (s *stubConnector) Ping(context.Context) error                              { return nil }
func (s *stubConnector) IntrospectSchema(context.Context) (*model.Schema, error) {
	return s.schema, s.err
}
func (s *stubConnector) Execute(context.Context, model.Statement, int) (*model.ExecutionResult, error) {
	return nil, errors.New("not implemented")
}
func (s *stubConnector) DriverName() string                 { return "stub" }
func (s *stubConnector) QuoteIdentifier(name string) string { return name }
func (s *stubConnector) CaseInsensitive() bool              { return s.caseInsensitive }
func (s *stubConnector) IsSystemTable(name string) bool {
	return strings.HasPrefix(name, "sys_")
}

func col(name string, typ model.ColumnType, pk bool) model.Column {
	return model.Column{Name: name, Type: typ, IsPrimaryKey: pk, IsNullable: !pk}
}

func TestBuildNormalizes(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	conn := &stubConnector{caseInsensitive: true, schema: &model.Schema{Tables: []model.Table{
		{Name: "Customers", Columns: []model.Column{col("ID", model.TypeInteger, true), col("Email", model.TypeText, false)}},
		{Name: "Orders", Columns: []model.Column{col("Id", model.TypeInteger, true), col("Customer_ID", "WEIRD", false)},
			ForeignKeys: []model.ForeignKey{
				{Column: "Customer_ID", ReferencedTable: "Customers", ReferencedColumn: "ID"},
				{Column: "Region_ID", ReferencedTable: "Regions", ReferencedColumn: "ID"},
			}},
		{Name: "CUSTOMERS", Columns: []model.Column{col("x", model.TypeText, false)}},
		{Name: "sys_audit", Columns: []model.Column{col("x", model.TypeText, false)}},
		{Name: "secrets", Columns: []model.Column{col("x", model.TypeText, false)}},
	}}}

	schema, err := Build(context.Background(), conn, Options{Exclude: []string{"Secrets"}, Logger: logger})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := strings.Join(schema.TableNames(), ","); got != "customers,orders" {
		t.Fatalf("tables = %s", got)
	}
	if !schema.CaseInsensitive {
		t.Error("CaseInsensitive not set")
	}

	orders := schema.Tables[1]
	if orders.Columns[1].Name != "customer_id" || orders.Columns[1].Type != model.TypeOther {
		t.Errorf("column = %+v", orders.Columns[1])
	}
	if len(orders.ForeignKeys) != 1 || orders.ForeignKeys[0].ReferencedTable != "customers" {
		t.Errorf("foreign keys = %+v", orders.ForeignKeys)
	}

	out := logs.String()
	if !strings.Contains(out, "foreign key to unknown table dropped") || !strings.Contains(out, "referenced_table=regions") {
		t.Errorf("missing FK warning in logs:\n%s", out)
	}
	if !strings.Contains(out, "duplicate table dropped") {
		t.Errorf("missing duplicate warning in logs:\n%s", out)
	}
}

func TestBuildKeepsCaseDistinctTables(t *testing.T) {
	conn := &stubConnector{schema: &model.Schema{Tables: []model.Table{
		{Name: "Users", Columns: []model.Column{col("id", model.TypeInteger, true)}},
		{Name: "users", Columns: []model.Column{col("id", model.TypeInteger, true)}},
		{Name: "posts", Columns: []model.Column{col("author", model.TypeInteger, false)},
			ForeignKeys: []model.ForeignKey{
				{Column: "author", ReferencedTable: "Users", ReferencedColumn: "id"},
				{Column: "editor", ReferencedTable: "USERS", ReferencedColumn: "id"},
			}},
	}}}

	schema, err := Build(context.Background(), conn, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := strings.Join(schema.TableNames(), ","); got != "Users,users,posts" {
		t.Fatalf("tables = %s, want Users,users,posts", got)
	}
	fks := schema.Tables[2].ForeignKeys
	if len(fks) != 2 || fks[0].ReferencedTable != "Users" || fks[1].ReferencedTable != "Users" {
		t.Errorf("foreign keys = %+v", fks)
	}
	if tbl, _ := schema.Table("users"); tbl != &schema.Tables[1] {
		t.Errorf("Table(users) resolved to %+v", tbl)
	}
}

func TestBuildDoesNotAliasAdapterSchema(t *testing.T) {
	raw := &model.Schema{Tables: []model.Table{
		{Name: "a", Columns: []model.Column{col("id", model.TypeInteger, true)}},
	}}
	schema, err := Build(context.Background(), &stubConnector{schema: raw}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	schema.Tables[0].Columns[0].Name = "changed"
	if raw.Tables[0].Columns[0].Name != "id" {
		t.Error("Build returned slices shared with the adapter")
	}
}

func TestBuildIntrospectionError(t *testing.T) {
	conn := &stubConnector{err: errors.New("introspect tables: dial postgres://u:pw@h/db refused")}
	_, err := Build(context.Background(), conn, Options{})
	if !apperr.IsKind(err, apperr.KindIntrospection) {
		t.Fatalf("err = %v, want introspection_error", err)
	}
	if strings.Contains(err.Error(), "pw@") {
		t.Errorf("credentials leaked: %v", err)
	}
}

func TestBuildEmptyDatabase(t *testing.T) {
	schema, err := Build(context.Background(), &stubConnector{schema: &model.Schema{}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(schema.Tables) != 0 {
		t.Errorf("tables = %v", schema.TableNames())
	}
}

func TestBuildSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email TEXT NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), total REAL)`,
		`CREATE TABLE products (sku TEXT PRIMARY KEY, price REAL)`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	conn := sqlite.New()
	if err := conn.Connect(context.Background(), connector.ConnectionSpec{Driver: "sqlite", Path: path}); err != nil {
		t.Fatal(err)
	}
	defer conn.Disconnect()

	schema, err := Build(context.Background(), conn, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(schema.Tables) != 3 {
		t.Fatalf("tables = %v", schema.TableNames())
	}
	for _, tbl := range schema.Tables {
		if len(tbl.Columns) == 0 {
			t.Errorf("table %s has no columns", tbl.Name)
		}
	}
}
