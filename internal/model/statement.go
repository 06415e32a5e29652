package model

// StatementKind classifies a validated statement.
type StatementKind string

const (
	KindQuery    StatementKind = "query"
	KindMutation StatementKind = "mutation"
	KindDDL      StatementKind = "ddl"
)

// ReadOnly reports whether statements of this kind never modify data.
func (k StatementKind) ReadOnly() bool {
	return k == KindQuery
}

// CandidateStatement is raw statement text pulled out of a model completion.
// It has not been checked by the validator and must never be executed.
type CandidateStatement struct {
	Text string `json:"text"`

	// Confident is false when the completion contained more than one
	// plausible statement and the first was taken.
	Confident bool `json:"confident"`
}

// Statement is a statement that passed the safety validator. Only the
// validator constructs it; the executor accepts nothing else.
type Statement struct {
	Text   string        `json:"sql"`
	Kind   StatementKind `json:"kind"`
	Tables []string      `json:"tables"`
}

// ExecutionResult is the tabular outcome of running a statement. Every cell
// holds a JSON scalar: string, float64, int64, bool or nil.
type ExecutionResult struct {
	Headers   []string `json:"headers"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated"`
	RowCount  int      `json:"row_count"`
}
