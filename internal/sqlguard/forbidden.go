package sqlguard

import (
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
)

// forbiddenWords may not appear as bare words anywhere in a statement.
var forbiddenWords = map[string]bool{
	"PRAGMA": true, "ATTACH": true, "DETACH": true,
	"OUTFILE": true, "DUMPFILE": true, "INFILE": true,
	"XP_CMDSHELL": true, "SP_EXECUTESQL": true,
	"OPENROWSET": true, "OPENQUERY": true, "OPENDATASOURCE": true,
	"WAITFOR": true, "SHUTDOWN": true, "EXEC": true, "EXECUTE": true,
	"CURRENT_USER": true, "SESSION_USER": true, "SYSTEM_USER": true,
}

// forbiddenFunctions are rejected when called. They sleep, touch the file
// system, or report server configuration.
var forbiddenFunctions = map[string]bool{
	"SLEEP": true, "BENCHMARK": true, "LOAD_FILE": true, "LOAD_EXTENSION": true,
	"READFILE": true, "WRITEFILE": true, "FSDIR": true, "EDITFILE": true,
	"VERSION": true, "DATABASE": true, "SCHEMA": true, "USER": true,
	"CONNECTION_ID": true, "CURRENT_SETTING": true, "SET_CONFIG": true,
	"INET_SERVER_ADDR": true, "INET_SERVER_PORT": true,
	"LO_IMPORT": true, "LO_EXPORT": true, "DBLINK": true, "DBLINK_EXEC": true,
	"READ_CSV": true, "READ_CSV_AUTO": true, "READ_PARQUET": true,
	"READ_JSON": true, "READ_JSON_AUTO": true, "READ_TEXT": true, "READ_BLOB": true,
	"GLOB": true, "SUSER_NAME": true, "SUSER_SNAME": true, "HOST_NAME": true,
	"DB_NAME": true, "SERVERPROPERTY": true,
}

// forbiddenFunctionPrefixes cover engine-internal function families.
var forbiddenFunctionPrefixes = []string{"PG_", "SQLITE_", "DUCKDB_", "XP_", "SP_", "DBMS_", "UTL_"}

// systemNames are catalogs and system tables, matched wherever they appear.
var systemNames = map[string]bool{
	"INFORMATION_SCHEMA": true, "PG_CATALOG": true, "PERFORMANCE_SCHEMA": true,
	"SQLITE_MASTER": true, "SQLITE_SCHEMA": true,
	"SQLITE_TEMP_MASTER": true, "SQLITE_TEMP_SCHEMA": true,
}

// systemQualifiers are system databases, matched only as a qualifier
// ("mysql.user") since the bare words are common column names.
var systemQualifiers = map[string]bool{
	"MYSQL": true, "SYS": true, "MASTER": true, "MSDB": true, "TEMPDB": true,
}

// checkForbidden rejects administrative and introspective constructs.
func checkForbidden(body []Token) error {
	for i, tok := range body {
		next := Token{Kind: EOF}
		if i+1 < len(body) {
			next = body[i+1]
		}

		switch tok.Kind {
		case Variable:
			return forbidden("server or session variable %s", tok.Value)
		case Word, QuotedIdent:
			up := tok.Upper()
			if systemNames[up] {
				return forbidden("system catalog %s", tok.Value)
			}
			if next.Kind == Dot && systemQualifiers[up] {
				return forbidden("system database %s", tok.Value)
			}
			if tok.Kind != Word {
				continue
			}
			if forbiddenWords[up] {
				return forbidden("%s", up)
			}
			if next.Kind == LParen && isForbiddenFunction(up) {
				return forbidden("function %s()", strings.ToLower(tok.Value))
			}
		}
	}
	return nil
}

func isForbiddenFunction(name string) bool {
	if forbiddenFunctions[name] {
		return true
	}
	for _, p := range forbiddenFunctionPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func forbidden(format string, args ...any) error {
	return apperr.Unsafe(RuleForbidden, fmt.Sprintf(format, args...)+" is not allowed")
}
