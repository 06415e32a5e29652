package mongo

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/saks635/NL2SQL-Convertor/internal/sqlguard"
)

// errUnsupported marks statements outside the subset a collection can answer:
//
//	SELECT cols | * | COUNT(*) FROM coll
//	  [WHERE pred {AND pred}]
//	  [ORDER BY col [ASC|DESC] {, ...}]
//	  [LIMIT n]
var errUnsupported = errors.New("unsupported for document store")

// findQuery is a SELECT translated into find or count arguments.
type findQuery struct {
	Collection string
	Count      bool
	All        bool
	Fields     []field
	Filter     bson.D
	Sort       bson.D
	Limit      int64
	HasLimit   bool
}

type field struct {
	Header string // as written, or the alias
	Path   string // dotted document path
}

// resolver maps a column name to the document path it was flattened from.
type resolver func(column string) string

type parser struct {
	toks    []sqlguard.Token
	i       int
	resolve resolver
}

// translate parses text into a findQuery. Column names go through resolve.
func translate(text string, resolve resolver) (*findQuery, error) {
	toks, err := sqlguard.Tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnsupported, err)
	}
	toks = toks[:len(toks)-1] // EOF
	if n := len(toks); n > 0 && toks[n-1].Kind == sqlguard.Semicolon {
		toks = toks[:n-1]
	}
	if resolve == nil {
		resolve = func(c string) string { return c }
	}

	p := &parser{toks: toks, resolve: resolve}
	q, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnsupported, err)
	}
	return q, nil
}

func (p *parser) peek() sqlguard.Token {
	if p.i < len(p.toks) {
		return p.toks[p.i]
	}
	return sqlguard.Token{Kind: sqlguard.EOF}
}

func (p *parser) next() sqlguard.Token {
	t := p.peek()
	if p.i < len(p.toks) {
		p.i++
	}
	return t
}

func (p *parser) acceptWord(kw string) bool {
	if p.peek().IsWord(kw) {
		p.i++
		return true
	}
	return false
}

func (p *parser) expectWord(kw string) error {
	if !p.acceptWord(kw) {
		return fmt.Errorf("expected %s near %q", kw, p.peek().Value)
	}
	return nil
}

func (p *parser) isSymbol(s string) bool {
	t := p.peek()
	return t.Kind == sqlguard.Symbol && t.Value == s
}

func (p *parser) parse() (*findQuery, error) {
	q := &findQuery{}
	if err := p.expectWord("SELECT"); err != nil {
		return nil, err
	}
	if err := p.selectList(q); err != nil {
		return nil, err
	}
	if err := p.expectWord("FROM"); err != nil {
		return nil, err
	}
	name := p.next()
	if !name.IsName() {
		return nil, fmt.Errorf("expected collection name near %q", name.Value)
	}
	q.Collection = name.Value

	if p.acceptWord("WHERE") {
		if err := p.where(q); err != nil {
			return nil, err
		}
	}
	if p.acceptWord("ORDER") {
		if err := p.expectWord("BY"); err != nil {
			return nil, err
		}
		if err := p.orderBy(q); err != nil {
			return nil, err
		}
	}
	if p.acceptWord("LIMIT") {
		t := p.next()
		n, err := strconv.ParseInt(t.Value, 10, 64)
		if t.Kind != sqlguard.Number || err != nil || n < 0 {
			return nil, fmt.Errorf("LIMIT needs a non-negative integer, got %q", t.Value)
		}
		q.Limit, q.HasLimit = n, true
	}
	if t := p.peek(); t.Kind != sqlguard.EOF {
		return nil, fmt.Errorf("unexpected %q", t.Value)
	}
	return q, nil
}

func (p *parser) selectList(q *findQuery) error {
	switch {
	case p.isSymbol("*"):
		p.i++
		q.All = true
		return nil
	case p.peek().IsWord("COUNT"):
		p.i++
		if p.next().Kind != sqlguard.LParen || !p.isSymbol("*") {
			return errors.New("only COUNT(*) is supported")
		}
		p.i++
		if p.next().Kind != sqlguard.RParen {
			return errors.New("only COUNT(*) is supported")
		}
		q.Count = true
		header, err := p.alias("count")
		if err != nil {
			return err
		}
		q.Fields = []field{{Header: header}}
		return nil
	}

	for {
		col, err := p.column()
		if err != nil {
			return err
		}
		header, err := p.alias(col)
		if err != nil {
			return err
		}
		q.Fields = append(q.Fields, field{Header: header, Path: p.resolve(col)})
		if p.peek().Kind != sqlguard.Comma {
			return nil
		}
		p.i++
	}
}

func (p *parser) alias(def string) (string, error) {
	if !p.acceptWord("AS") {
		return def, nil
	}
	t := p.next()
	if !t.IsName() {
		return "", fmt.Errorf("expected alias near %q", t.Value)
	}
	return t.Value, nil
}

// column reads a column name, dropping a single table qualifier.
func (p *parser) column() (string, error) {
	t := p.next()
	if !t.IsName() || (t.Kind == sqlguard.Word && isClauseWord(t.Value)) {
		return "", fmt.Errorf("expected column near %q", t.Value)
	}
	if p.peek().Kind == sqlguard.Dot {
		p.i++
		t = p.next()
		if !t.IsName() {
			return "", fmt.Errorf("expected column near %q", t.Value)
		}
	}
	return t.Value, nil
}

func isClauseWord(w string) bool {
	switch strings.ToUpper(w) {
	case "FROM", "WHERE", "ORDER", "LIMIT", "AND", "OR", "NOT", "AS":
		return true
	}
	return false
}

var comparison = map[string]string{
	"=": "$eq", "!=": "$ne", "<>": "$ne",
	"<": "$lt", "<=": "$lte", ">": "$gt", ">=": "$gte",
}

func (p *parser) where(q *findQuery) error {
	var preds []bson.D
	for {
		pred, err := p.predicate()
		if err != nil {
			return err
		}
		preds = append(preds, pred)
		if p.peek().IsWord("OR") {
			return errors.New("OR is not supported")
		}
		if !p.acceptWord("AND") {
			break
		}
	}
	if len(preds) == 1 {
		q.Filter = preds[0]
		return nil
	}
	all := make(bson.A, len(preds))
	for i, pred := range preds {
		all[i] = pred
	}
	q.Filter = bson.D{{Key: "$and", Value: all}}
	return nil
}

func (p *parser) predicate() (bson.D, error) {
	col, err := p.column()
	if err != nil {
		return nil, err
	}
	path := p.resolve(col)

	t := p.peek()
	if op, ok := comparison[t.Value]; ok && t.Kind == sqlguard.Symbol {
		p.i++
		v, err := p.literal(path)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, errors.New("compare with NULL using IS NULL")
		}
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: v}}}}, nil
	}

	switch {
	case p.acceptWord("IS"):
		not := p.acceptWord("NOT")
		if err := p.expectWord("NULL"); err != nil {
			return nil, err
		}
		if not {
			return bson.D{{Key: path, Value: bson.D{{Key: "$ne", Value: nil}}}}, nil
		}
		return bson.D{{Key: path, Value: nil}}, nil

	case p.acceptWord("BETWEEN"):
		lo, err := p.literal(path)
		if err != nil {
			return nil, err
		}
		if err := p.expectWord("AND"); err != nil {
			return nil, err
		}
		hi, err := p.literal(path)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: path, Value: bson.D{{Key: "$gte", Value: lo}, {Key: "$lte", Value: hi}}}}, nil
	}

	not := p.acceptWord("NOT")
	switch {
	case p.acceptWord("IN"):
		list, err := p.literalList(path)
		if err != nil {
			return nil, err
		}
		op := "$in"
		if not {
			op = "$nin"
		}
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: list}}}}, nil

	case p.acceptWord("LIKE"):
		t := p.next()
		if t.Kind != sqlguard.String {
			return nil, errors.New("LIKE needs a string pattern")
		}
		re := primitive.Regex{Pattern: likeToRegex(t.Value)}
		if not {
			return bson.D{{Key: path, Value: bson.D{{Key: "$not", Value: re}}}}, nil
		}
		return bson.D{{Key: path, Value: re}}, nil
	}
	return nil, fmt.Errorf("unsupported predicate near %q", p.peek().Value)
}

func (p *parser) literalList(path string) (bson.A, error) {
	if p.next().Kind != sqlguard.LParen {
		return nil, errors.New("IN needs a parenthesized list")
	}
	var list bson.A
	for {
		v, err := p.literal(path)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
		t := p.next()
		if t.Kind == sqlguard.RParen {
			return list, nil
		}
		if t.Kind != sqlguard.Comma {
			return nil, fmt.Errorf("unexpected %q in IN list", t.Value)
		}
	}
}

// literal reads a constant. Strings compared against _id that look like
// ObjectIDs become ObjectIDs.
func (p *parser) literal(path string) (any, error) {
	neg := false
	if p.isSymbol("-") {
		p.i++
		neg = true
	}
	t := p.next()
	switch {
	case t.Kind == sqlguard.Number:
		if i, err := strconv.ParseInt(t.Value, 10, 64); err == nil {
			if neg {
				i = -i
			}
			return i, nil
		}
		f, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.Value)
		}
		if neg {
			f = -f
		}
		return f, nil
	case neg:
		return nil, fmt.Errorf("bad number near %q", t.Value)
	case t.Kind == sqlguard.String:
		if path == "_id" {
			if oid, err := primitive.ObjectIDFromHex(t.Value); err == nil {
				return oid, nil
			}
		}
		return t.Value, nil
	case t.IsWord("TRUE"):
		return true, nil
	case t.IsWord("FALSE"):
		return false, nil
	case t.IsWord("NULL"):
		return nil, nil
	}
	return nil, fmt.Errorf("expected a constant near %q", t.Value)
}

func (p *parser) orderBy(q *findQuery) error {
	for {
		col, err := p.column()
		if err != nil {
			return err
		}
		dir := 1
		if p.acceptWord("DESC") {
			dir = -1
		} else {
			p.acceptWord("ASC")
		}
		q.Sort = append(q.Sort, bson.E{Key: p.resolve(col), Value: dir})
		if p.peek().Kind != sqlguard.Comma {
			return nil
		}
		p.i++
	}
}

// likeToRegex turns a LIKE pattern into an anchored regular expression.
func likeToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
