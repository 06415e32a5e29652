// Package pipeline chains the stages of a request: schema catalog, prompt,
// synthesis, validation and execution. It keeps no state between requests;
// the connection pools it draws from live in the connector registry.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/catalog"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/executor"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/prompt"
	"github.com/saks635/NL2SQL-Convertor/internal/sqlguard"
	"github.com/saks635/NL2SQL-Convertor/internal/synth"
)

// Settings are the process-wide defaults a request falls back to.
type Settings struct {
	Provider         string
	RowLimit         int
	ExecutionTimeout time.Duration
	AllowMutations   bool
	SampleSize       int
	MaxSchemaChars   int
	Exclude          []string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Provider:         llm.Gemini,
		RowLimit:         executor.DefaultRowLimit,
		ExecutionTimeout: executor.DefaultTimeout,
		SampleSize:       50,
		MaxSchemaChars:   prompt.DefaultMaxSchemaChars,
	}
}

// Generation is the outcome of GenerateStatement. Statement is nil when the
// candidate was rejected.
type Generation struct {
	Candidate     model.CandidateStatement `json:"candidate"`
	Statement     *model.Statement         `json:"statement,omitempty"`
	Provider      string                   `json:"provider"`
	OmittedTables []string                 `json:"omitted_tables,omitempty"`
}

// Answer is the outcome of Ask.
type Answer struct {
	RequestID  string                 `json:"request_id"`
	Generation *Generation            `json:"generation,omitempty"`
	Result     *model.ExecutionResult `json:"result,omitempty"`
}

// Pipeline runs requests against sources reached through a Registry.
type Pipeline struct {
	registry  *connector.Registry
	providers *llm.Set
	settings  Settings
	logger    *slog.Logger
}

// New creates a Pipeline. Zero-valued settings take their defaults.
func New(registry *connector.Registry, providers *llm.Set, settings Settings, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultSettings()
	if settings.Provider == "" {
		settings.Provider = def.Provider
	}
	if settings.RowLimit <= 0 {
		settings.RowLimit = def.RowLimit
	}
	if settings.ExecutionTimeout <= 0 {
		settings.ExecutionTimeout = def.ExecutionTimeout
	}
	if settings.SampleSize <= 0 {
		settings.SampleSize = def.SampleSize
	}
	if settings.MaxSchemaChars <= 0 {
		settings.MaxSchemaChars = def.MaxSchemaChars
	}
	return &Pipeline{registry: registry, providers: providers, settings: settings, logger: logger}
}

// Settings returns the effective defaults.
func (p *Pipeline) Settings() Settings { return p.settings }

// Providers returns the provider set requests choose from.
func (p *Pipeline) Providers() *llm.Set { return p.providers }

// Registry returns the connector registry.
func (p *Pipeline) Registry() *connector.Registry { return p.registry }

// GetSchema connects to spec and returns its canonical schema.
func (p *Pipeline) GetSchema(ctx context.Context, spec connector.ConnectionSpec) (*model.Schema, error) {
	t := newTracker(ctx, p.logger)
	schema, err := withConn(ctx, p, spec, func(conn connector.Connector) (*model.Schema, error) {
		return p.buildSchema(ctx, t, conn)
	})
	if err != nil {
		return nil, t.finish(err)
	}
	return schema, t.finish(nil)
}

// GenerateStatement asks provider (the configured default when empty) for a
// statement answering question and validates it against schema. Mutations
// follow the process setting. On rejection the Generation is returned with
// the error so callers can show the candidate.
func (p *Pipeline) GenerateStatement(ctx context.Context, question string, schema *model.Schema, provider string) (*Generation, error) {
	t := newTracker(ctx, p.logger)
	gen, err := p.generate(ctx, t, question, schema, provider, p.settings.AllowMutations)
	return gen, t.finish(err)
}

// ExecuteStatement validates text against a freshly built schema of spec
// and runs it. Non-positive rowLimit and timeout take the defaults.
func (p *Pipeline) ExecuteStatement(ctx context.Context, spec connector.ConnectionSpec, text string, rowLimit int, timeout time.Duration) (*model.ExecutionResult, error) {
	t := newTracker(ctx, p.logger)
	spec = p.prepare(spec)
	result, err := withConn(ctx, p, spec, func(conn connector.Connector) (*model.ExecutionResult, error) {
		schema, err := p.buildSchema(ctx, t, conn)
		if err != nil {
			return nil, err
		}
		stmt, err := sqlguard.Validate(model.CandidateStatement{Text: text, Confident: true}, schema,
			sqlguard.Options{AllowMutations: spec.AllowMutations, Driver: schema.Driver})
		if err != nil {
			return nil, err
		}
		t.advance(StageValidated)
		return p.execute(ctx, t, conn, *stmt, rowLimit, timeout)
	})
	if err != nil {
		return nil, t.finish(err)
	}
	return result, t.finish(nil)
}

// Ask chains schema, generation and, when execute is set, execution over one
// connection. The Answer is returned even on failure, holding whatever was
// produced before it.
func (p *Pipeline) Ask(ctx context.Context, spec connector.ConnectionSpec, question, provider string, execute bool) (*Answer, error) {
	return p.AskWith(ctx, spec, question, AskOptions{Provider: provider, Execute: execute})
}

// AskOptions tune AskWith. Zero RowLimit and Timeout take the settings.
type AskOptions struct {
	Provider string
	Execute  bool
	RowLimit int
	Timeout  time.Duration
}

// AskWith is Ask with per-request execution limits.
func (p *Pipeline) AskWith(ctx context.Context, spec connector.ConnectionSpec, question string, opts AskOptions) (*Answer, error) {
	t := newTracker(ctx, p.logger)
	answer := &Answer{RequestID: t.id}
	spec = p.prepare(spec)

	_, err := withConn(ctx, p, spec, func(conn connector.Connector) (struct{}, error) {
		schema, err := p.buildSchema(ctx, t, conn)
		if err != nil {
			return struct{}{}, err
		}
		gen, err := p.generate(ctx, t, question, schema, opts.Provider, spec.AllowMutations)
		answer.Generation = gen
		if err != nil || !opts.Execute {
			return struct{}{}, err
		}
		answer.Result, err = p.execute(ctx, t, conn, *gen.Statement, opts.RowLimit, opts.Timeout)
		return struct{}{}, err
	})
	return answer, t.finish(err)
}

// prepare fills request-independent defaults into spec.
func (p *Pipeline) prepare(spec connector.ConnectionSpec) connector.ConnectionSpec {
	if spec.SampleSize <= 0 {
		spec.SampleSize = p.settings.SampleSize
	}
	spec.AllowMutations = spec.AllowMutations || p.settings.AllowMutations
	return spec
}

// withConn acquires a handle for spec, runs fn and releases the handle on
// every path.
func withConn[T any](ctx context.Context, p *Pipeline, spec connector.ConnectionSpec, fn func(connector.Connector) (T, error)) (T, error) {
	var zero T
	conn, err := p.registry.Acquire(ctx, p.prepare(spec))
	if err != nil {
		return zero, err
	}
	defer func() {
		if derr := conn.Disconnect(); derr != nil {
			p.logger.Warn("disconnect failed", "driver", spec.Driver, "error", spec.Redact(derr.Error()))
		}
	}()
	return fn(conn)
}

func (p *Pipeline) buildSchema(ctx context.Context, t *tracker, conn connector.Connector) (*model.Schema, error) {
	schema, err := catalog.Build(ctx, conn, catalog.Options{Exclude: p.settings.Exclude, Logger: p.logger})
	if err != nil {
		return nil, err
	}
	t.advance(StageSchemaBuilt)
	return schema, nil
}

func (p *Pipeline) generate(ctx context.Context, t *tracker, question string, schema *model.Schema, name string, allowMutations bool) (*Generation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "question is required")
	}
	if schema == nil {
		return nil, apperr.New(apperr.KindInvalidRequest, "schema is required")
	}
	if name == "" {
		name = p.settings.Provider
	}
	provider, err := p.providers.Get(name)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindSynthesis, "provider "+name+" unavailable: "+err.Error())
	}

	composed := prompt.Compose(question, schema, prompt.Options{Driver: schema.Driver, MaxSchemaChars: p.settings.MaxSchemaChars})
	if len(composed.Omitted) > 0 {
		p.logger.Info("tables omitted from prompt", "request_id", t.id, "omitted", composed.Omitted)
	}
	t.advance(StagePromptComposed)

	candidate, err := synth.Synthesize(ctx, composed.Text, provider)
	if err != nil {
		return nil, err
	}
	t.advance(StageSynthesized)
	if !candidate.Confident {
		p.logger.Info("completion held several statements, first taken", "request_id", t.id, "provider", name)
	}

	gen := &Generation{Candidate: candidate, Provider: name, OmittedTables: composed.Omitted}
	stmt, err := sqlguard.Validate(candidate, schema, sqlguard.Options{AllowMutations: allowMutations, Driver: schema.Driver})
	if err != nil {
		return gen, err
	}
	t.advance(StageValidated)
	gen.Statement = stmt
	return gen, nil
}

func (p *Pipeline) execute(ctx context.Context, t *tracker, conn connector.Connector, stmt model.Statement, rowLimit int, timeout time.Duration) (*model.ExecutionResult, error) {
	if rowLimit <= 0 {
		rowLimit = p.settings.RowLimit
	}
	if timeout <= 0 {
		timeout = p.settings.ExecutionTimeout
	}
	result, err := executor.Run(ctx, conn, stmt, executor.Options{RowLimit: rowLimit, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	t.advance(StageExecuted)
	return result, nil
}
