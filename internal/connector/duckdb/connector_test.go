package duckdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

func createTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.duckdb")

	db, err := sql.Open("duckdb", path)
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, email VARCHAR NOT NULL, joined DATE)`,
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			customer_id INTEGER REFERENCES customers(id),
			total DECIMAL(10,2),
			paid BOOLEAN
		)`,
		`INSERT INTO customers SELECT i, 'c' || i || '@example.com', DATE '2024-01-01' FROM range(1, 6) t(i)`,
		`INSERT INTO orders VALUES (1, 1, 19.99, true), (2, 2, 5.00, false)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

func connect(t *testing.T, spec connector.ConnectionSpec) connector.Connector {
	t.Helper()
	conn := New()
	if err := conn.Connect(context.Background(), spec); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })
	return conn
}

func TestIntrospectSchema(t *testing.T) {
	conn := connect(t, connector.ConnectionSpec{Driver: "duckdb", Path: createTestDB(t)})

	schema, err := conn.IntrospectSchema(context.Background())
	if err != nil {
		t.Fatalf("IntrospectSchema: %v", err)
	}
	if got := schema.TableNames(); len(got) != 2 || got[0] != "customers" || got[1] != "orders" {
		t.Fatalf("tables = %v", got)
	}

	orders, _ := schema.Table("orders")
	if pk := orders.PrimaryKey(); len(pk) != 1 || pk[0] != "id" {
		t.Errorf("orders pk = %v", pk)
	}
	total, _ := orders.Column("total")
	if total.Type != model.TypeReal {
		t.Errorf("total type = %s (%s)", total.Type, total.NativeType)
	}
	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("foreign keys = %+v", orders.ForeignKeys)
	}
	fk := orders.ForeignKeys[0]
	if fk.Column != "customer_id" || fk.ReferencedTable != "customers" || fk.ReferencedColumn != "id" {
		t.Errorf("fk = %+v", fk)
	}
}

func TestExecuteRowCapAndReadOnly(t *testing.T) {
	conn := connect(t, connector.ConnectionSpec{Driver: "duckdb", Path: createTestDB(t)})
	ctx := context.Background()

	res, err := conn.Execute(ctx, model.Statement{Text: "SELECT id, email FROM customers ORDER BY id", Kind: model.KindQuery}, 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RowCount != 3 || !res.Truncated {
		t.Errorf("row_count = %d truncated = %v", res.RowCount, res.Truncated)
	}

	_, err = conn.Execute(ctx, model.Statement{Text: "DELETE FROM orders", Kind: model.KindMutation}, 10)
	if err == nil {
		t.Error("read-only database accepted a DELETE")
	}
}

func TestConnectRejectsForeignUpload(t *testing.T) {
	conn := New()
	err := conn.Connect(context.Background(), connector.ConnectionSpec{
		Driver: "duckdb", Data: []byte("SQLite format 3\x00 not duck"),
	})
	if err == nil {
		t.Fatal("expected error for non-DuckDB upload")
	}
}

func TestConnectUploadedBytes(t *testing.T) {
	data, err := os.ReadFile(createTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	conn := New().(*DuckDBConnector)
	if err := conn.Connect(context.Background(), connector.ConnectionSpec{Driver: "duckdb", Data: data}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	staged := conn.tempPath
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	conn.Disconnect()
	conn.Disconnect()
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged file %s not removed", staged)
	}
}

func TestMapDuckDBType(t *testing.T) {
	tests := []struct {
		in   string
		want model.ColumnType
	}{
		{"INTEGER", model.TypeInteger},
		{"HUGEINT", model.TypeInteger},
		{"DECIMAL(10,2)", model.TypeReal},
		{"VARCHAR", model.TypeText},
		{"TIMESTAMP WITH TIME ZONE", model.TypeDatetime},
		{"BOOLEAN", model.TypeBoolean},
		{"BLOB", model.TypeBlob},
		{"INTEGER[]", model.TypeOther},
		{"STRUCT(a INTEGER)", model.TypeOther},
	}
	for _, tt := range tests {
		if got := mapDuckDBType(tt.in); got != tt.want {
			t.Errorf("mapDuckDBType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
