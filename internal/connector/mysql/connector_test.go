package mysql

import (
	"strings"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		spec     connector.ConnectionSpec
		wantAddr string
		wantDB   string
		wantPass string
	}{
		{
			name:     "from parts with default port",
			spec:     connector.ConnectionSpec{Host: "db.local", User: "app", Password: "p@ss:word", Database: "shop"},
			wantAddr: "db.local:3306",
			wantDB:   "shop",
			wantPass: "p@ss:word",
		},
		{
			name:     "bare host port dsn",
			spec:     connector.ConnectionSpec{DSN: "app:secret@db.local:3307/shop"},
			wantAddr: "db.local:3307",
			wantDB:   "shop",
			wantPass: "secret",
		},
		{
			name:     "database overrides dsn",
			spec:     connector.ConnectionSpec{DSN: "app:secret@tcp(db.local:3306)/shop", Database: "other"},
			wantAddr: "db.local:3306",
			wantDB:   "other",
			wantPass: "secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := BuildDSN(tt.spec)
			if err != nil {
				t.Fatalf("BuildDSN: %v", err)
			}
			cfg, err := mysqldriver.ParseDSN(dsn)
			if err != nil {
				t.Fatalf("ParseDSN(%q): %v", dsn, err)
			}
			if cfg.Addr != tt.wantAddr || cfg.DBName != tt.wantDB || cfg.Passwd != tt.wantPass {
				t.Errorf("cfg = addr %q db %q pass %q", cfg.Addr, cfg.DBName, cfg.Passwd)
			}
			if !cfg.ParseTime {
				t.Error("parseTime should be on")
			}
		})
	}

	if _, err := BuildDSN(connector.ConnectionSpec{}); err == nil {
		t.Error("expected error without host or DSN")
	}
}

func TestBuildDSNErrorHidesDSN(t *testing.T) {
	_, err := BuildDSN(connector.ConnectionSpec{DSN: "app:hunter2@tcp(bad"})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("error leaks password: %v", err)
	}
}

func TestMapMySQLType(t *testing.T) {
	tests := []struct {
		dataType, columnType string
		want                 model.ColumnType
	}{
		{"int", "int(11)", model.TypeInteger},
		{"bigint", "bigint unsigned", model.TypeInteger},
		{"tinyint", "tinyint(1)", model.TypeBoolean},
		{"tinyint", "tinyint(4)", model.TypeInteger},
		{"decimal", "decimal(10,2)", model.TypeReal},
		{"varchar", "varchar(255)", model.TypeText},
		{"enum", "enum('a','b')", model.TypeText},
		{"datetime", "datetime", model.TypeDatetime},
		{"longblob", "longblob", model.TypeBlob},
		{"json", "json", model.TypeOther},
		{"point", "point", model.TypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.columnType, func(t *testing.T) {
			if got := mapMySQLType(tt.dataType, tt.columnType); got != tt.want {
				t.Errorf("mapMySQLType(%q, %q) = %s, want %s", tt.dataType, tt.columnType, got, tt.want)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	c := New()
	if c.DriverName() != "mysql" || !c.CaseInsensitive() {
		t.Error("unexpected metadata")
	}
	if got := c.QuoteIdentifier("we`ird"); got != "`we``ird`" {
		t.Errorf("QuoteIdentifier = %s", got)
	}
	if _, ok := c.(connector.Poolable); !ok {
		t.Error("mysql connector should be poolable")
	}
}
