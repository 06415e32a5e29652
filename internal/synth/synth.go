// Package synth asks a provider for a statement and pulls the statement out
// of whatever text the model wrapped around it.
package synth

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// ErrNoStatement is the message of the synthesis error returned when a
// completion holds nothing that looks like a statement.
const ErrNoStatement = "no statement found"

// statementKeywords start a line that Extract treats as a statement. The
// list is wider than what the validator accepts so that a model answering
// with, say, PRAGMA is rejected by the validator rather than ignored here.
var statementKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "TABLE": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "REPLACE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true, "RENAME": true,
	"PRAGMA": true, "EXPLAIN": true, "SHOW": true, "DESCRIBE": true, "DESC": true,
	"GRANT": true, "REVOKE": true, "ATTACH": true, "DETACH": true,
	"CALL": true, "EXEC": true, "EXECUTE": true, "SET": true, "USE": true,
	"BEGIN": true, "COPY": true, "LOAD": true, "VACUUM": true, "ANALYZE": true,
}

// Synthesize sends prompt to provider and extracts a candidate statement
// from the completion. It makes exactly one provider call.
func Synthesize(ctx context.Context, prompt string, provider llm.Provider) (model.CandidateStatement, error) {
	completion, err := provider.Complete(ctx, prompt)
	if err != nil {
		return model.CandidateStatement{}, apperr.Wrap(err, apperr.KindSynthesis,
			fmt.Sprintf("provider %s failed: %v", provider.Name(), err))
	}
	candidate, ok := Extract(completion)
	if !ok {
		return model.CandidateStatement{}, apperr.New(apperr.KindSynthesis, ErrNoStatement)
	}
	return candidate, nil
}

// Extract returns the first fenced code block of completion, or failing
// that the first line starting with a statement keyword, continued to the
// first unquoted semicolon. Confident is false when another block or
// another statement line follows the one taken.
func Extract(completion string) (model.CandidateStatement, bool) {
	if blocks := fencedBlocks(completion); len(blocks) > 0 {
		return model.CandidateStatement{Text: blocks[0], Confident: len(blocks) == 1}, true
	}

	lines := strings.SplitAfter(completion, "\n")
	offset := 0
	for _, line := range lines {
		if startsStatement(line) {
			rest := completion[offset:]
			text, consumed := untilTerminator(rest)
			text = strings.TrimSpace(text)
			if text == "" {
				return model.CandidateStatement{}, false
			}
			return model.CandidateStatement{Text: text, Confident: !anyStatementLine(rest[consumed:])}, true
		}
		offset += len(line)
	}
	return model.CandidateStatement{}, false
}

// fencedBlocks returns the non-empty contents of ``` fenced blocks in
// order. An unclosed fence runs to the end of the text.
func fencedBlocks(s string) []string {
	var blocks []string
	lines := strings.Split(s, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "```") {
			continue
		}
		// single line: ```SELECT 1```
		if inner := strings.TrimPrefix(line, "```"); strings.HasSuffix(inner, "```") && len(inner) > 3 {
			if body := strings.TrimSpace(strings.TrimSuffix(inner, "```")); body != "" && startsStatement(body) {
				blocks = append(blocks, body)
			}
			continue
		}

		var body []string
		j := i + 1
		for ; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				break
			}
			body = append(body, lines[j])
		}
		if text := strings.TrimSpace(strings.Join(body, "\n")); text != "" {
			blocks = append(blocks, text)
		}
		i = j
	}
	return blocks
}

// startsStatement reports whether line's first word is a statement keyword
// written in upper or lower case. Title case ("Use the query below") is
// prose.
func startsStatement(line string) bool {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	end := strings.IndexFunc(line, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	word := line
	if end >= 0 {
		word = line[:end]
	}
	if word != strings.ToUpper(word) && word != strings.ToLower(word) {
		return false
	}
	return statementKeywords[strings.ToUpper(word)]
}

func anyStatementLine(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if startsStatement(line) {
			return true
		}
	}
	return false
}

// untilTerminator returns s up to the first semicolon outside quotes and
// comments, and how many bytes were consumed including the semicolon.
func untilTerminator(s string) (string, int) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			if nl := strings.IndexByte(s[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(s)
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			if end := strings.Index(s[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(s)
			}
		case c == ';':
			return s[:i], i + 1
		}
	}
	return s, len(s)
}
