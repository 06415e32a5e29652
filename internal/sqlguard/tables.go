package sqlguard

import (
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// TableRef is a table name found in a table position of a statement.
type TableRef struct {
	Parts []string // qualified name, outermost qualifier first
	Pos   int

	// Creates is set for the target of CREATE TABLE / CREATE VIEW, which
	// does not exist yet.
	Creates bool

	// Function is set for table-valued function calls in FROM position.
	Function bool

	// Literal is set when a string, number, parameter or operator stands
	// where a table name belongs. SQLite reads 'name' there as a table and
	// DuckDB reads it as a file to scan.
	Literal bool
}

// Name returns the unqualified table name.
func (r TableRef) Name() string {
	return r.Parts[len(r.Parts)-1]
}

// String returns the dotted name.
func (r TableRef) String() string {
	return strings.Join(r.Parts, ".")
}

// functionsWithFrom take FROM inside their argument list, as in
// EXTRACT(YEAR FROM created_at).
var functionsWithFrom = map[string]bool{
	"EXTRACT": true, "SUBSTRING": true, "SUBSTR": true, "TRIM": true,
	"POSITION": true, "OVERLAY": true, "DATE_PART": true,
}

// reservedWords are keywords that are never read as a table name.
var reservedWords = map[string]bool{
	"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "OUTER": true, "CROSS": true, "NATURAL": true, "ON": true,
	"USING": true, "GROUP": true, "ORDER": true, "HAVING": true, "LIMIT": true,
	"OFFSET": true, "FETCH": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"WINDOW": true, "SET": true, "VALUES": true, "RETURNING": true, "FOR": true,
	"WITH": true, "SELECT": true, "DEFAULT": true, "WHEN": true, "LATERAL": true,
	"STRAIGHT_JOIN": true, "QUALIFY": true, "TABLESAMPLE": true, "AS": true,
	"ADD": true, "RENAME": true, "MODIFY": true, "CHANGE": true, "DROP": true,
	"ALTER": true, "CASCADE": true, "RESTRICT": true,
}

// ExtractTables returns the table references and the CTE names of a single
// statement's tokens.
func ExtractTables(body []Token) ([]TableRef, map[string]bool) {
	s := &tableScanner{toks: body}
	ctes := s.cteNames()
	s.scan()
	return s.refs, ctes
}

// checkTables rejects references to tables that are not part of schema and
// returns the referenced schema tables, deduplicated, in statement order.
func checkTables(body []Token, schema *model.Schema) ([]string, error) {
	refs, ctes := ExtractTables(body)

	var tables []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		if ref.Literal {
			return nil, apperr.Unsafe(RuleUnknownTable,
				fmt.Sprintf("%q in table position is not a table name", ref.String()))
		}
		if ref.Function {
			// Table functions such as read_csv or generate_series reach
			// outside the schema; handled with the other forbidden constructs.
			return nil, apperr.Unsafe(RuleForbidden,
				fmt.Sprintf("table function %s is not allowed", ref.String()))
		}
		if ref.Creates {
			continue
		}
		if len(ref.Parts) == 1 && ctes[strings.ToLower(ref.Name())] {
			continue
		}
		if len(ref.Parts) > 2 ||
			(len(ref.Parts) == 2 && !strings.EqualFold(ref.Parts[0], schema.Namespace)) {
			return nil, apperr.Unsafe(RuleUnknownTable,
				fmt.Sprintf("table %s is outside the connected database", ref.String()))
		}
		tbl, ok := schema.Table(ref.Name())
		if !ok {
			return nil, apperr.Unsafe(RuleUnknownTable,
				fmt.Sprintf("table %s does not exist in the schema", ref.String()))
		}
		if !seen[tbl.Name] {
			seen[tbl.Name] = true
			tables = append(tables, tbl.Name)
		}
	}
	return tables, nil
}

type tableScanner struct {
	toks []Token
	refs []TableRef
}

func (s *tableScanner) at(i int) Token {
	if i < 0 || i >= len(s.toks) {
		return Token{Kind: EOF}
	}
	return s.toks[i]
}

// skipParens returns the index just past the parenthesized group opening
// at i.
func (s *tableScanner) skipParens(i int) int {
	depth := 0
	for ; i < len(s.toks); i++ {
		switch s.toks[i].Kind {
		case LParen:
			depth++
		case RParen:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return i
}

// cteNames collects names defined by every WITH clause in the statement:
// WITH [RECURSIVE] name [(cols)] AS [[NOT] MATERIALIZED] (query) {, ...}
func (s *tableScanner) cteNames() map[string]bool {
	names := make(map[string]bool)
	for i := range s.toks {
		if !s.toks[i].IsWord("WITH") {
			continue
		}
		j := i + 1
		if s.at(j).IsWord("RECURSIVE") {
			j++
		}
		for {
			name := s.at(j)
			if !name.IsName() {
				break
			}
			k := j + 1
			if s.at(k).Kind == LParen {
				k = s.skipParens(k)
			}
			if !s.at(k).IsWord("AS") {
				break
			}
			k++
			if s.at(k).IsWord("NOT") {
				k++
			}
			if s.at(k).IsWord("MATERIALIZED") {
				k++
			}
			if s.at(k).Kind != LParen {
				break
			}
			names[strings.ToLower(name.Value)] = true
			k = s.skipParens(k)
			if s.at(k).Kind != Comma {
				break
			}
			j = k + 1
		}
	}
	return names
}

// fromClauseEnd lists keywords that close a FROM (or multi-table UPDATE)
// clause at the current parenthesis depth.
var fromClauseEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "HAVING": true, "ORDER": true, "LIMIT": true,
	"OFFSET": true, "FETCH": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"WINDOW": true, "QUALIFY": true, "RETURNING": true, "SET": true,
	"SELECT": true, "VALUES": true,
}

// frame is the scanner state of one parenthesis level.
type frame struct {
	owner  string // function name owning the parenthesis, if any
	inFrom bool   // inside a table list, where commas separate tables
}

func (s *tableScanner) scan() {
	frames := []frame{{}}
	lead := leader(s.toks)

	for i := 0; i < len(s.toks); i++ {
		tok := s.toks[i]
		top := &frames[len(frames)-1]
		switch tok.Kind {
		case LParen:
			owner := ""
			if prev := s.at(i - 1); prev.Kind == Word {
				owner = prev.Upper()
			}
			frames = append(frames, frame{owner: owner})
			continue
		case RParen:
			if len(frames) > 1 {
				frames = frames[:len(frames)-1]
			}
			continue
		case Comma:
			if top.inFrom {
				s.readOne(i+1, true)
			}
			continue
		case Word:
		default:
			continue
		}

		kw := tok.Upper()
		if fromClauseEnd[kw] {
			top.inFrom = false
		}
		switch kw {
		case "FROM":
			if functionsWithFrom[top.owner] {
				continue
			}
			if s.at(i - 1).IsWord("DISTINCT") {
				continue // IS [NOT] DISTINCT FROM
			}
			s.readOne(i+1, true)
			top.inFrom = true
		case "JOIN", "STRAIGHT_JOIN":
			s.readOne(i+1, false)
			top.inFrom = true
		case "USING":
			if s.at(i+1).Kind != LParen {
				s.readOne(i+1, false)
				top.inFrom = true
			}
		case "INTO":
			s.readRef(i+1, false)
		case "UPDATE":
			switch prev := s.at(i - 1); {
			case prev.IsWord("FOR"), prev.IsWord("KEY"), prev.IsWord("DO"),
				prev.IsWord("ON"), prev.IsWord("THEN"):
				continue
			}
			s.readOne(i+1, false)
			top.inFrom = true
		case "TABLE":
			if i == lead {
				s.readRef(i+1, false)
			}
		}
	}

	s.scanDDL(lead)
}

// scanDDL records the targets of table-level DDL.
func (s *tableScanner) scanDDL(lead int) {
	verb := s.at(lead)
	if verb.Kind != Word {
		return
	}
	j := lead + 1
	for s.at(j).Kind == Word {
		switch s.at(j).Upper() {
		case "OR", "REPLACE", "TEMP", "TEMPORARY", "UNIQUE":
			j++
			continue
		}
		break
	}
	object := s.at(j).Upper()
	j++

	switch verb.Upper() {
	case "CREATE":
		if s.at(j).IsWord("IF") {
			j += 3 // IF NOT EXISTS
		}
		switch object {
		case "TABLE", "VIEW":
			if ref, ok := s.parseRef(j, false); ok {
				ref.Creates = true
				s.refs = append(s.refs, ref)
			}
		case "INDEX":
			for k := j; k < len(s.toks); k++ {
				if s.toks[k].IsWord("ON") {
					s.readRef(k+1, false)
					break
				}
			}
		}
	case "DROP":
		if object != "TABLE" && object != "VIEW" {
			return
		}
		if s.at(j).IsWord("IF") {
			j += 2 // IF EXISTS
		}
		s.readList(j)
	case "ALTER":
		if object == "TABLE" || object == "VIEW" {
			if s.at(j).IsWord("IF") {
				j += 2
			}
			s.readRef(j, false)
		}
	case "TRUNCATE":
		if object != "TABLE" {
			j-- // TRUNCATE name
		}
		s.readList(j)
	}
}

// readOne reads one table reference or derived table at i. allowFunction
// marks "name(" as a table function rather than a table.
func (s *tableScanner) readOne(i int, allowFunction bool) {
	if s.at(i).IsWord("LATERAL") || s.at(i).IsWord("ONLY") {
		i++
	}
	if s.at(i).Kind == LParen {
		// Derived table; its own FROM clauses are found by the main scan.
		return
	}
	s.readRef(i, allowFunction)
}

// readList reads "ref {, ref}" starting at i, for DROP and TRUNCATE.
func (s *tableScanner) readList(i int) {
	for {
		ref, ok := s.parseRef(i, false)
		if !ok {
			return
		}
		s.refs = append(s.refs, ref)
		i += refWidth(s.toks, i)
		if s.at(i).Kind != Comma {
			return
		}
		i++
	}
}

func (s *tableScanner) readRef(i int, allowFunction bool) {
	if ref, ok := s.parseRef(i, allowFunction); ok {
		s.refs = append(s.refs, ref)
	}
}

// parseRef reads a possibly qualified name at i. MSSQL [bracketed] names
// are accepted as single parts.
func (s *tableScanner) parseRef(i int, allowFunction bool) (TableRef, bool) {
	ref := TableRef{Pos: s.at(i).Pos}
	for {
		if tok := s.at(i); isLiteral(tok) {
			ref.Parts = append(ref.Parts, tok.Value)
			ref.Literal = true
			return ref, true
		}
		part, width, ok := s.namePart(i)
		if !ok {
			break
		}
		ref.Parts = append(ref.Parts, part)
		i += width
		if s.at(i).Kind != Dot {
			break
		}
		i++
	}
	if len(ref.Parts) == 0 {
		return TableRef{}, false
	}
	if allowFunction && s.at(i).Kind == LParen {
		ref.Function = true
	}
	return ref, true
}

func (s *tableScanner) namePart(i int) (string, int, bool) {
	tok := s.at(i)
	switch {
	case tok.Kind == QuotedIdent:
		return tok.Value, 1, true
	case tok.Kind == Word:
		if reservedWords[tok.Upper()] {
			return "", 0, false
		}
		return tok.Value, 1, true
	case tok.Kind == Symbol && tok.Value == "[":
		var parts []string
		for k := i + 1; k < len(s.toks); k++ {
			if s.toks[k].Kind == Symbol && s.toks[k].Value == "]" {
				return strings.Join(parts, " "), k - i + 1, true
			}
			parts = append(parts, s.toks[k].Value)
		}
	}
	return "", 0, false
}

// isLiteral reports whether tok can never be a table name yet some engine
// still resolves it to a relation.
func isLiteral(tok Token) bool {
	switch tok.Kind {
	case String, Number, Param, Variable:
		return true
	case Symbol:
		return tok.Value != "["
	}
	return false
}

// refWidth counts the tokens of the qualified name starting at i.
func refWidth(toks []Token, i int) int {
	s := &tableScanner{toks: toks}
	start := i
	for {
		_, width, ok := s.namePart(i)
		if !ok {
			break
		}
		i += width
		if s.at(i).Kind != Dot {
			break
		}
		i++
	}
	return i - start
}
