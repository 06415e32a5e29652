package mssql

import (
	"net/url"
	"testing"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(connector.ConnectionSpec{
		Host: "sql.local", User: "sa", Password: "Str0ng%Pass", Database: "wwi",
		Options: map[string]string{"encrypt": "disable"},
	})
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", dsn, err)
	}
	pass, _ := u.User.Password()
	if u.Scheme != "sqlserver" || u.Host != "sql.local:1433" || pass != "Str0ng%Pass" {
		t.Errorf("dsn = %q", dsn)
	}
	if u.Query().Get("database") != "wwi" || u.Query().Get("encrypt") != "disable" {
		t.Errorf("query = %v", u.Query())
	}

	if _, err := BuildDSN(connector.ConnectionSpec{DSN: "server=x;user id=sa"}); err == nil {
		t.Error("ADO style DSN should be rejected")
	}
}

func TestMapMSSQLType(t *testing.T) {
	tests := []struct {
		in   string
		want model.ColumnType
	}{
		{"int", model.TypeInteger},
		{"money", model.TypeReal},
		{"nvarchar", model.TypeText},
		{"datetime2", model.TypeDatetime},
		{"bit", model.TypeBoolean},
		{"varbinary", model.TypeBlob},
		{"uniqueidentifier", model.TypeOther},
	}
	for _, tt := range tests {
		if got := mapMSSQLType(tt.in); got != tt.want {
			t.Errorf("mapMSSQLType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	c := New()
	if got := c.QuoteIdentifier("a]b"); got != "[a]]b]" {
		t.Errorf("QuoteIdentifier = %s", got)
	}
	if !c.IsSystemTable("sysdiagrams") || c.IsSystemTable("orders") {
		t.Error("IsSystemTable mismatch")
	}
}
