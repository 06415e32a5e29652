package sqlguard

import (
	"fmt"
	"strings"
)

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	Word        TokenKind = iota // keyword or bare identifier
	QuotedIdent                  // "name" or `name`
	String                       // 'text', $$text$$
	Number
	Variable // @name, @@name
	Param    // ?, $1
	Symbol   // operators and punctuation not listed below
	Semicolon
	LParen
	RParen
	Comma
	Dot
	EOF
)

func (k TokenKind) String() string {
	switch k {
	case Word:
		return "WORD"
	case QuotedIdent:
		return "QUOTED_IDENT"
	case String:
		return "STRING"
	case Number:
		return "NUMBER"
	case Variable:
		return "VARIABLE"
	case Param:
		return "PARAM"
	case Symbol:
		return "SYMBOL"
	case Semicolon:
		return "SEMICOLON"
	case LParen:
		return "LPAREN"
	case RParen:
		return "RPAREN"
	case Comma:
		return "COMMA"
	case Dot:
		return "DOT"
	case EOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token is one lexical unit. Value holds the unquoted content for quoted
// identifiers and strings, and the raw text otherwise. Pos is the byte
// offset of the token's first character in the input.
type Token struct {
	Kind  TokenKind
	Value string
	Pos   int
}

// Upper returns the token value in upper case, for keyword comparison.
func (t Token) Upper() string {
	return strings.ToUpper(t.Value)
}

// IsWord reports whether t is a bare word equal to kw, ignoring case.
func (t Token) IsWord(kw string) bool {
	return t.Kind == Word && strings.EqualFold(t.Value, kw)
}

// IsName reports whether t can name a table or column.
func (t Token) IsName() bool {
	return t.Kind == Word || t.Kind == QuotedIdent
}

// LexError reports input the lexer refuses to interpret. Unterminated
// quotes and comments, and constructs whose meaning differs between SQL
// dialects, both end up here.
type LexError struct {
	Pos int
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at offset %d", e.Msg, e.Pos)
}

// Lexer splits SQL text into tokens. Comments and whitespace are dropped.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte

	// DollarQuotes reads $tag$...$tag$ as a string. Only engines that
	// define that quoting get it; elsewhere $ starts a name or parameter.
	DollarQuotes bool
}

// NewLexer returns a lexer positioned at the start of input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// dollarQuoting lists the drivers whose SQL has $tag$ string quoting.
var dollarQuoting = map[string]bool{
	"postgres": true,
	"duckdb":   true,
}

// Tokenize lexes the whole input with no dialect-specific quoting. The
// returned slice always ends with an EOF token when err is nil.
func Tokenize(input string) ([]Token, error) {
	return TokenizeFor(input, "")
}

// TokenizeFor lexes input as the SQL dialect of driver.
func TokenizeFor(input, driver string) ([]Token, error) {
	l := NewLexer(input)
	l.DollarQuotes = dollarQuoting[driver]
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == EOF {
			return tokens, nil
		}
	}
}

// NextToken returns the next token, skipping whitespace and comments.
func (l *Lexer) NextToken() (Token, error) {
	if err := l.skipIgnored(); err != nil {
		return Token{}, err
	}

	start := l.pos
	switch ch := l.ch; {
	case ch == 0 && l.pos >= len(l.input):
		return Token{Kind: EOF, Pos: start}, nil
	case ch == ';':
		l.readChar()
		return Token{Kind: Semicolon, Value: ";", Pos: start}, nil
	case ch == '(':
		l.readChar()
		return Token{Kind: LParen, Value: "(", Pos: start}, nil
	case ch == ')':
		l.readChar()
		return Token{Kind: RParen, Value: ")", Pos: start}, nil
	case ch == ',':
		l.readChar()
		return Token{Kind: Comma, Value: ",", Pos: start}, nil
	case ch == '.' && !isDigit(l.peekChar()):
		l.readChar()
		return Token{Kind: Dot, Value: ".", Pos: start}, nil
	case ch == '\'':
		s, err := l.readQuoted('\'')
		if err != nil {
			return Token{}, err
		}
		return Token{Kind: String, Value: s, Pos: start}, nil
	case ch == '"' || ch == '`':
		s, err := l.readQuoted(ch)
		if err != nil {
			return Token{}, err
		}
		return Token{Kind: QuotedIdent, Value: s, Pos: start}, nil
	case ch == '#':
		return Token{}, &LexError{Pos: start, Msg: "'#' is a comment in some dialects and an operator in others"}
	case ch == '@':
		return l.readVariable(), nil
	case ch == '?':
		l.readChar()
		return Token{Kind: Param, Value: "?", Pos: start}, nil
	case ch == '$':
		return l.readDollar()
	case isDigit(ch) || ch == '.':
		return Token{Kind: Number, Value: l.readNumber(), Pos: start}, nil
	case isIdentStart(ch):
		return Token{Kind: Word, Value: l.readWord(), Pos: start}, nil
	default:
		return Token{Kind: Symbol, Value: l.readOperator(), Pos: start}, nil
	}
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) charAt(i int) byte {
	if i >= len(l.input) {
		return 0
	}
	return l.input[i]
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.input)
}

// skipIgnored consumes whitespace, line comments and block comments.
func (l *Lexer) skipIgnored() error {
	for !l.atEnd() {
		switch {
		case isSpace(l.ch):
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			// MySQL only starts a comment when "--" is followed by a space;
			// "--1" there is a double negation.
			if next := l.charAt(l.readPos + 1); next != 0 && !isSpace(next) {
				return &LexError{Pos: l.pos, Msg: "'--' without a following space is a comment in some dialects and arithmetic in others"}
			}
			for !l.atEnd() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *Lexer) skipBlockComment() error {
	start := l.pos
	l.readChar() // '/'
	l.readChar() // '*'
	if l.ch == '!' {
		// MySQL executes the body of /*! ... */ comments.
		return &LexError{Pos: start, Msg: "executable comment"}
	}
	for !l.atEnd() {
		if l.ch == '/' && l.peekChar() == '*' {
			// Nesting is honored by some engines and not others.
			return &LexError{Pos: l.pos, Msg: "nested block comment"}
		}
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			return nil
		}
		l.readChar()
	}
	return &LexError{Pos: start, Msg: "unterminated block comment"}
}

// readQuoted reads a quoted run closed by q, where a doubled q stands for
// a literal q. Backslashes are rejected: MySQL treats them as escapes and
// the standard does not, so the end of the literal would be ambiguous.
func (l *Lexer) readQuoted(q byte) (string, error) {
	start := l.pos
	l.readChar()
	var b strings.Builder
	for !l.atEnd() {
		switch l.ch {
		case '\\':
			return "", &LexError{Pos: l.pos, Msg: "backslash inside quoted text"}
		case q:
			if l.peekChar() == q {
				b.WriteByte(q)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			return b.String(), nil
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	return "", &LexError{Pos: start, Msg: fmt.Sprintf("unterminated %c quote", q)}
}

func (l *Lexer) readVariable() Token {
	start := l.pos
	l.readChar()
	if l.ch == '@' {
		l.readChar()
	}
	for isIdentPart(l.ch) && !l.atEnd() {
		l.readChar()
	}
	return Token{Kind: Variable, Value: l.input[start:l.pos], Pos: start}
}

// readDollar handles $1 parameters and $tag$...$tag$ quoted strings.
func (l *Lexer) readDollar() (Token, error) {
	start := l.pos
	l.readChar()
	if isDigit(l.ch) {
		for isDigit(l.ch) && !l.atEnd() {
			l.readChar()
		}
		return Token{Kind: Param, Value: l.input[start:l.pos], Pos: start}, nil
	}
	for isIdentPart(l.ch) && l.ch != '$' && !l.atEnd() {
		l.readChar()
	}
	if l.ch != '$' {
		return Token{Kind: Symbol, Value: l.input[start:l.pos], Pos: start}, nil
	}
	if !l.DollarQuotes {
		return Token{}, &LexError{Pos: start, Msg: "dollar quoting is not defined for this dialect"}
	}
	l.readChar()
	delim := l.input[start:l.pos]
	end := strings.Index(l.input[l.pos:], delim)
	if end < 0 {
		return Token{}, &LexError{Pos: start, Msg: "unterminated dollar-quoted string"}
	}
	body := l.input[l.pos : l.pos+end]
	for i := 0; i < end+len(delim); i++ {
		l.readChar()
	}
	return Token{Kind: String, Value: body, Pos: start}, nil
}

func (l *Lexer) readNumber() string {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) && !l.atEnd() {
			l.readChar()
		}
		return l.input[start:l.pos]
	}
	for (isDigit(l.ch) || l.ch == '.') && !l.atEnd() {
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			l.readChar()
			for isDigit(l.ch) && !l.atEnd() {
				l.readChar()
			}
		}
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readWord() string {
	start := l.pos
	for isIdentPart(l.ch) && !l.atEnd() {
		l.readChar()
	}
	return l.input[start:l.pos]
}

var twoCharOperators = map[string]bool{
	"<=": true, ">=": true, "<>": true, "!=": true,
	"||": true, "::": true, ":=": true, "->": true,
}

func (l *Lexer) readOperator() string {
	start := l.pos
	if l.readPos < len(l.input) && twoCharOperators[l.input[l.pos:l.readPos+1]] {
		l.readChar()
	}
	l.readChar()
	return l.input[start:l.pos]
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || ('a' <= ch && ch <= 'f') || ('A' <= ch && ch <= 'F')
}

// isIdentStart accepts ASCII letters, underscore and any non-ASCII byte so
// UTF-8 identifiers stay in one token.
func isIdentStart(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}
