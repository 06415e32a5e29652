// Package executor runs validated statements under a row cap and a deadline.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

const (
	DefaultRowLimit = 200
	DefaultTimeout  = 5000 * time.Millisecond
)

// Options bound one execution. Zero values take the defaults.
type Options struct {
	RowLimit int
	Timeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.RowLimit <= 0 {
		o.RowLimit = DefaultRowLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Run executes stmt on conn. The adapter enforces the row cap and coerces
// cells; Run owns the deadline, which is passed down so the driver cancels
// the engine call when it fires.
func Run(ctx context.Context, conn connector.Connector, stmt model.Statement, opts Options) (*model.ExecutionResult, error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	result, err := conn.Execute(runCtx, stmt, opts.RowLimit)
	if err != nil {
		// A driver may report the cancellation with its own error, so the
		// context is checked too.
		timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Wrap(err, apperr.KindExecutionTimeout,
				fmt.Sprintf("statement exceeded the %s execution timeout", opts.Timeout))
		}
		if errors.Is(err, context.Canceled) {
			return nil, apperr.Wrap(err, apperr.KindExecution, "execution cancelled")
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Wrap(err, apperr.KindExecution, "execution failed")
		}
		return nil, err
	}

	if len(result.Rows) > opts.RowLimit {
		result.Rows = result.Rows[:opts.RowLimit]
		result.Truncated = true
	}
	if result.Rows == nil {
		result.Rows = [][]any{}
	}
	if result.Headers == nil {
		result.Headers = []string{}
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
