package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
)

// Stage is a point in the life of one request.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageSchemaBuilt    Stage = "schema_built"
	StagePromptComposed Stage = "prompt_composed"
	StageSynthesized    Stage = "synthesized"
	StageValidated      Stage = "validated"
	StageRejected       Stage = "rejected"
	StageExecuted       Stage = "executed"
	StageFailed         Stage = "failed"
	StageDone           Stage = "done"
)

// order ranks stages; a request only moves to a higher rank. Rejected sits
// beside Validated as the other validator outcome.
var order = map[Stage]int{
	StageIdle:           0,
	StageSchemaBuilt:    1,
	StagePromptComposed: 2,
	StageSynthesized:    3,
	StageValidated:      4,
	StageRejected:       4,
	StageExecuted:       5,
	StageFailed:         6,
	StageDone:           7,
}

// Terminal reports whether nothing but Done may follow s.
func (s Stage) Terminal() bool {
	return s == StageRejected || s == StageFailed || s == StageDone
}

// Outcome maps the error a pipeline operation returned to the terminal
// stage recorded in history.
func Outcome(err error) Stage {
	switch {
	case err == nil:
		return StageDone
	case apperr.IsKind(err, apperr.KindUnsafeStatement):
		return StageRejected
	default:
		return StageFailed
	}
}

// tracker follows one request through its stages.
type tracker struct {
	id     string
	logger *slog.Logger
	stage  Stage
}

func newTracker(ctx context.Context, logger *slog.Logger) *tracker {
	return &tracker{id: RequestID(ctx), logger: logger, stage: StageIdle}
}

// advance moves to next. Moving backwards or out of a terminal stage is
// refused and logged.
func (t *tracker) advance(next Stage) bool {
	if t.stage == StageDone || (t.stage.Terminal() && next != StageDone) || order[next] <= order[t.stage] {
		t.logger.Error("illegal stage transition", "request_id", t.id,
			"error", fmt.Sprintf("%s -> %s", t.stage, next))
		return false
	}
	t.logger.Debug("stage", "request_id", t.id, "from", string(t.stage), "to", string(next))
	t.stage = next
	return true
}

// finish records the terminal stage for err and moves to Done.
func (t *tracker) finish(err error) error {
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.KindUnsafeStatement {
			if t.stage != StageRejected {
				t.advance(StageRejected)
			}
			t.logger.Info("statement rejected", "request_id", t.id, "rule", apperr.RuleOf(err))
		} else {
			t.advance(StageFailed)
			level := slog.LevelWarn
			if kind == apperr.KindInternal {
				level = slog.LevelError
			}
			t.logger.Log(context.Background(), level, "request failed",
				"request_id", t.id, "kind", string(kind), "error", err)
		}
	}
	t.advance(StageDone)
	return err
}

type ctxKey struct{}

// WithRequestID returns a context carrying id. Transports set it so logs and
// history rows share one id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the id carried by ctx, or a fresh UUID v7.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.Must(uuid.NewV7()).String()
}
