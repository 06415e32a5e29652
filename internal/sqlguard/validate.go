// Package sqlguard decides whether a model-generated statement may run.
// It is an allow-list over a token stream, not a SQL parser: anything it
// cannot classify with confidence is rejected.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// Rules reported on rejection, in the order they are checked.
const (
	RuleAmbiguous    = "ambiguous_statement"
	RuleEmpty        = "empty_statement"
	RuleMultiple     = "multiple_statements"
	RuleKind         = "statement_kind"
	RuleMutation     = "mutation_statement"
	RuleUnknownTable = "unknown_table"
	RuleForbidden    = "forbidden_construct"
)

// Options tune the policy for one request.
type Options struct {
	// AllowMutations admits INSERT/UPDATE/DELETE and table-level DDL.
	AllowMutations bool

	// Driver selects the lexical dialect. Empty falls back to the schema's
	// driver.
	Driver string
}

// Validate checks candidate against schema and returns the statement the
// executor may run. Rejections are *apperr.Error values of kind
// unsafe_statement carrying the violated rule. Validating the Text of a
// returned statement again yields the same decision.
func Validate(candidate model.CandidateStatement, schema *model.Schema, opts Options) (*model.Statement, error) {
	if schema == nil {
		schema = &model.Schema{}
	}

	driver := opts.Driver
	if driver == "" {
		driver = schema.Driver
	}
	tokens, err := TokenizeFor(candidate.Text, driver)
	if err != nil {
		var lexErr *LexError
		if errors.As(err, &lexErr) {
			return nil, apperr.Unsafe(RuleAmbiguous, lexErr.Msg)
		}
		return nil, apperr.Unsafe(RuleAmbiguous, err.Error())
	}

	body, end, err := singleStatement(tokens)
	if err != nil {
		return nil, err
	}
	if err := checkBalanced(body); err != nil {
		return nil, err
	}

	kind, err := classify(body, opts)
	if err != nil {
		return nil, err
	}

	tables, err := checkTables(body, schema)
	if err != nil {
		return nil, err
	}

	if err := checkForbidden(body); err != nil {
		return nil, err
	}

	return &model.Statement{
		Text:   strings.TrimSpace(candidate.Text[:end]),
		Kind:   kind,
		Tables: tables,
	}, nil
}

// singleStatement enforces the statement count. At most one terminator is
// allowed, and only after the statement. It returns the statement's tokens
// (without terminator or EOF) and the byte offset where the statement ends.
func singleStatement(tokens []Token) ([]Token, int, error) {
	var body []Token
	terminators := 0
	end := -1
	for _, tok := range tokens {
		switch tok.Kind {
		case EOF:
			if end < 0 {
				end = tok.Pos
			}
		case Semicolon:
			terminators++
			if terminators > 1 {
				return nil, 0, apperr.Unsafe(RuleMultiple, "more than one statement terminator")
			}
			end = tok.Pos
		default:
			if terminators > 0 {
				return nil, 0, apperr.Unsafe(RuleMultiple, "text follows the statement terminator")
			}
			body = append(body, tok)
		}
	}
	if len(body) == 0 {
		return nil, 0, apperr.Unsafe(RuleEmpty, "no statement text")
	}
	return body, end, nil
}

func checkBalanced(body []Token) error {
	depth := 0
	for _, tok := range body {
		switch tok.Kind {
		case LParen:
			depth++
		case RParen:
			depth--
			if depth < 0 {
				return apperr.Unsafe(RuleAmbiguous, "unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return apperr.Unsafe(RuleAmbiguous, "unbalanced parentheses")
	}
	return nil
}

var (
	mutationLeaders = map[string]bool{
		"INSERT": true, "UPDATE": true, "DELETE": true,
		"REPLACE": true, "MERGE": true, "UPSERT": true,
	}
	ddlLeaders = map[string]bool{
		"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	}
)

// leader returns the index of the statement's first keyword, skipping
// leading parentheses as in "(SELECT 1) UNION (SELECT 2)".
func leader(body []Token) int {
	i := 0
	for i < len(body) && body[i].Kind == LParen {
		i++
	}
	return i
}

func classify(body []Token, opts Options) (model.StatementKind, error) {
	i := leader(body)
	if i >= len(body) || body[i].Kind != Word {
		return "", apperr.Unsafe(RuleKind, "statement does not start with a keyword")
	}
	first := body[i].Upper()

	var kind model.StatementKind
	switch {
	case first == "SELECT" || first == "VALUES" || first == "TABLE":
		kind = model.KindQuery
		if containsWord(body, "INTO") {
			// SELECT ... INTO creates a table or writes a file.
			kind = model.KindDDL
		}
	case first == "WITH":
		kind = model.KindQuery
		if hasDataModification(body) {
			kind = model.KindMutation
		} else if containsWord(body, "INTO") {
			kind = model.KindDDL
		}
	case mutationLeaders[first]:
		kind = model.KindMutation
	case ddlLeaders[first]:
		kind = model.KindDDL
		if err := checkDDLObject(body, i); err != nil {
			return "", err
		}
	default:
		return "", apperr.Unsafe(RuleKind, fmt.Sprintf("%s statements are not allowed", first))
	}

	if !kind.ReadOnly() && !opts.AllowMutations {
		return "", apperr.Unsafe(RuleMutation,
			fmt.Sprintf("%s statements modify the database and mutations are disabled", first))
	}
	return kind, nil
}

// checkDDLObject limits DDL to tables, views and indexes.
func checkDDLObject(body []Token, i int) error {
	verb := body[i].Upper()
	j := i + 1
	if verb == "TRUNCATE" {
		return nil
	}
	for j < len(body) && body[j].Kind == Word {
		switch body[j].Upper() {
		case "OR", "REPLACE", "TEMP", "TEMPORARY", "UNIQUE":
			j++
			continue
		case "TABLE", "VIEW", "INDEX":
			return nil
		}
		break
	}
	obj := "object"
	if j < len(body) {
		obj = body[j].Upper()
	}
	return apperr.Unsafe(RuleKind, fmt.Sprintf("%s %s statements are not allowed", verb, obj))
}

func containsWord(body []Token, kw string) bool {
	for _, tok := range body {
		if tok.IsWord(kw) {
			return true
		}
	}
	return false
}

// hasDataModification finds INSERT/UPDATE/DELETE/MERGE inside a WITH
// statement. Locking clauses (FOR UPDATE) and same-named string functions
// such as REPLACE(s, a, b) do not count.
func hasDataModification(body []Token) bool {
	for i, tok := range body {
		if tok.Kind != Word {
			continue
		}
		if i+1 < len(body) && body[i+1].Kind == LParen {
			continue
		}
		switch tok.Upper() {
		case "INSERT", "DELETE", "MERGE", "REPLACE":
			return true
		case "UPDATE":
			if i > 0 && body[i-1].IsWord("FOR") {
				continue
			}
			return true
		}
	}
	return false
}
