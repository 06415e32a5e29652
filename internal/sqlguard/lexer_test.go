package sqlguard

import (
	"errors"
	"testing"
)

func TestTokenize(t *testing.T) {
	input := "SELECT \"full name\", 'it''s' FROM t -- note\n WHERE x <> $1 /* c */ AND y = ?;"
	want := []struct {
		kind  TokenKind
		value string
	}{
		{Word, "SELECT"},
		{QuotedIdent, "full name"},
		{Comma, ","},
		{String, "it's"},
		{Word, "FROM"},
		{Word, "t"},
		{Word, "WHERE"},
		{Word, "x"},
		{Symbol, "<>"},
		{Param, "$1"},
		{Word, "AND"},
		{Word, "y"},
		{Symbol, "="},
		{Param, "?"},
		{Semicolon, ";"},
		{EOF, ""},
	}

	tokens, err := Tokenize(input)
	if err != nil {
		t.Fatalf("Tokenize error: %v", err)
	}
	if len(tokens) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		if tokens[i].Kind != w.kind || tokens[i].Value != w.value {
			t.Errorf("token %d = %s %q, want %s %q", i, tokens[i].Kind, tokens[i].Value, w.kind, w.value)
		}
	}
	if tokens[len(tokens)-1].Pos != len(input) {
		t.Errorf("EOF Pos = %d, want %d", tokens[len(tokens)-1].Pos, len(input))
	}
}

func TestTokenizeLiterals(t *testing.T) {
	tests := []struct {
		input string
		kind  TokenKind
		value string
	}{
		{"42", Number, "42"},
		{"3.14", Number, "3.14"},
		{".5", Number, ".5"},
		{"1e10", Number, "1e10"},
		{"0xFF", Number, "0xFF"},
		{"`order`", QuotedIdent, "order"},
		{`"a""b"`, QuotedIdent, `a"b`},
		{"$$don't$$", String, "don't"},
		{"$tag$a;b$tag$", String, "a;b"},
		{"@@version", Variable, "@@version"},
		{"@name", Variable, "@name"},
		{"::", Symbol, "::"},
		{"naïve", Word, "naïve"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tokens, err := TokenizeFor(tt.input, "postgres")
			if err != nil {
				t.Fatalf("TokenizeFor(%q): %v", tt.input, err)
			}
			if tokens[0].Kind != tt.kind || tokens[0].Value != tt.value {
				t.Errorf("got %s %q, want %s %q", tokens[0].Kind, tokens[0].Value, tt.kind, tt.value)
			}
		})
	}
}

func TestTokenizeErrors(t *testing.T) {
	inputs := []string{
		"SELECT 'open",
		`SELECT "open`,
		"SELECT /* open",
		"SELECT /* a /* b */ */ 1",
		"SELECT /*!50000 1 */",
		`SELECT 'a\'`,
		"SELECT 1 # mysql comment",
		"SELECT $q$ never closed",
		"SELECT id --1, 2 FROM t",
		"SELECT 1 ---- banner",
	}
	for _, in := range inputs {
		_, err := Tokenize(in)
		var lexErr *LexError
		if !errors.As(err, &lexErr) {
			t.Errorf("Tokenize(%q) = %v, want *LexError", in, err)
		}
	}
}

func TestTokenizeDialects(t *testing.T) {
	tests := []struct {
		input   string
		driver  string
		wantErr bool
	}{
		{"SELECT $a$x$a$", "postgres", false},
		{"SELECT $$x$$", "duckdb", false},
		{"SELECT $a$x$a$", "mysql", true},
		{"SELECT $$x$$", "sqlite", true},
		{"SELECT $a$x$a$", "", true},
		{"SELECT $1", "mysql", false},
		{"SELECT 1 --\n", "mysql", false},
		{"SELECT 1 --", "mysql", false},
		{"SELECT 1 --\tnote", "mssql", false},
		{"SELECT 1 --note", "postgres", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.input, func(t *testing.T) {
			_, err := TokenizeFor(tt.input, tt.driver)
			if (err != nil) != tt.wantErr {
				t.Errorf("TokenizeFor(%q, %q) error = %v, wantErr %v", tt.input, tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestExtractTables(t *testing.T) {
	toks, err := Tokenize(`WITH r AS (SELECT 1) SELECT * FROM a JOIN b USING (id) LEFT JOIN "c" ON TRUE, r WHERE x IS DISTINCT FROM y`)
	if err != nil {
		t.Fatal(err)
	}
	refs, ctes := ExtractTables(toks[:len(toks)-1])
	if !ctes["r"] {
		t.Errorf("cte r not found: %v", ctes)
	}
	var got []string
	for _, r := range refs {
		got = append(got, r.String())
	}
	want := []string{"a", "b", "c", "r"}
	if len(got) != len(want) {
		t.Fatalf("refs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ref %d = %s, want %s", i, got[i], want[i])
		}
	}
}
