package model

import "time"

// HistoryRecord is the outcome of one pipeline request, written once when
// the request finishes.
type HistoryRecord struct {
	ID         string    `json:"id" db:"id"` // request id
	Source     string    `json:"source" db:"source"`
	Driver     string    `json:"driver" db:"driver"`
	Question   string    `json:"question,omitempty" db:"question"`
	Provider   string    `json:"provider,omitempty" db:"provider"`
	Statement  string    `json:"sql,omitempty" db:"statement"`
	Stage      string    `json:"stage" db:"stage"`
	ErrorKind  string    `json:"error_kind,omitempty" db:"error_kind"`
	ErrorRule  string    `json:"error_rule,omitempty" db:"error_rule"`
	RowCount   int       `json:"row_count" db:"row_count"`
	Truncated  bool      `json:"truncated" db:"truncated"`
	DurationMs int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
