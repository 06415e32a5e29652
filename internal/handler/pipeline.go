package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

const (
	maxRowLimit  = 10000
	maxTimeoutMs = 120000
)

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	duckdbMagic = []byte("DUCK")
)

// PipelineOptions configure a PipelineHandler.
type PipelineOptions struct {
	MaxUploadSize int64
	RecordHistory bool
	HistoryKeep   int
	Logger        *slog.Logger
}

// PipelineHandler serves the schema, generate, execute and ask endpoints.
type PipelineHandler struct {
	pipeline *pipeline.Pipeline
	store    *config.Store
	opts     PipelineOptions
	logger   *slog.Logger
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(p *pipeline.Pipeline, store *config.Store, opts PipelineOptions) *PipelineHandler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 50 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandler{pipeline: p, store: store, opts: opts, logger: logger}
}

// pipelineRequest is the body shared by the pipeline endpoints. Each
// endpoint reads the fields it needs. Uploads arrive as multipart forms
// with the same field names plus a db_file part.
type pipelineRequest struct {
	Source    string `json:"source"`
	Question  string `json:"question"`
	Provider  string `json:"provider"`
	SQL       string `json:"sql"`
	RowLimit  int    `json:"row_limit"`
	TimeoutMs int    `json:"timeout_ms"`
	Execute   *bool  `json:"execute"`

	RowCounts  bool `json:"row_counts"`
	SampleRows int  `json:"sample_rows"`

	driver string
	upload []byte
}

// target is the database a request runs against.
type target struct {
	spec  connector.ConnectionSpec
	label string // source name, or "upload"
}

func (h *PipelineHandler) parse(w http.ResponseWriter, r *http.Request) (*pipelineRequest, error) {
	var req pipelineRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		if err := readJSON(w, r, &req); err != nil {
			return nil, apperr.New(apperr.KindInvalidRequest, "invalid request body: "+err.Error())
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadSize+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, apperr.New(apperr.KindInvalidRequest, "invalid multipart form: "+err.Error())
		}
		defer r.MultipartForm.RemoveAll()

		req.Source = r.FormValue("source")
		req.Question = r.FormValue("question")
		req.Provider = r.FormValue("provider")
		req.SQL = r.FormValue("sql")
		req.driver = r.FormValue("driver")
		var err error
		if req.RowLimit, err = formInt(r, "row_limit"); err != nil {
			return nil, apperr.New(apperr.KindInvalidRequest, err.Error())
		}
		if req.TimeoutMs, err = formInt(r, "timeout_ms"); err != nil {
			return nil, apperr.New(apperr.KindInvalidRequest, err.Error())
		}
		if v := r.FormValue("execute"); v != "" {
			b := v == "true" || v == "1"
			req.Execute = &b
		}
		if v := r.FormValue("row_counts"); v != "" {
			req.RowCounts = v == "true" || v == "1"
		}
		if req.SampleRows, err = formInt(r, "sample_rows"); err != nil {
			return nil, apperr.New(apperr.KindInvalidRequest, err.Error())
		}

		file, header, err := r.FormFile("db_file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return nil, apperr.New(apperr.KindInvalidRequest, "could not read db_file: "+err.Error())
		default:
			defer file.Close()
			if header.Size > h.opts.MaxUploadSize {
				return nil, apperr.Newf(apperr.KindInvalidRequest, "db_file exceeds the %d byte upload limit", h.opts.MaxUploadSize)
			}
			data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxUploadSize+1))
			if err != nil {
				return nil, apperr.New(apperr.KindInvalidRequest, "could not read db_file: "+err.Error())
			}
			if int64(len(data)) > h.opts.MaxUploadSize {
				return nil, apperr.Newf(apperr.KindInvalidRequest, "db_file exceeds the %d byte upload limit", h.opts.MaxUploadSize)
			}
			if len(data) == 0 {
				return nil, apperr.New(apperr.KindInvalidRequest, "db_file is empty")
			}
			req.upload = data
		}
	}

	if req.RowLimit < 0 || req.TimeoutMs < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "row_limit and timeout_ms must be positive")
	}
	if req.SampleRows < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "sample_rows must not be negative")
	}
	if req.RowLimit > 0 {
		req.RowLimit = clampInt(req.RowLimit, 1, maxRowLimit)
	}
	if req.TimeoutMs > 0 {
		req.TimeoutMs = clampInt(req.TimeoutMs, 1, maxTimeoutMs)
	}
	return &req, nil
}

// resolve turns the request's source name or upload into a connection spec.
func (h *PipelineHandler) resolve(ctx context.Context, req *pipelineRequest) (target, error) {
	if len(req.upload) > 0 {
		driver := req.driver
		if driver == "" {
			driver = detectDriver(req.upload)
		}
		if !connector.IsFileDriver(driver) {
			return target{}, apperr.Newf(apperr.KindInvalidRequest,
				"uploads must be sqlite or duckdb database files, got driver %q", driver)
		}
		return target{spec: connector.ConnectionSpec{Driver: driver, Data: req.upload}, label: "upload"}, nil
	}

	if req.Source == "" {
		return target{}, apperr.New(apperr.KindInvalidRequest, "source or db_file is required")
	}
	src, err := h.store.GetSource(ctx, req.Source)
	if errors.Is(err, config.ErrNotFound) {
		return target{}, apperr.Newf(apperr.KindNotFound, "source not found: %s", req.Source)
	}
	if err != nil {
		return target{}, apperr.Wrap(err, apperr.KindInternal, "could not load source")
	}
	return target{spec: connector.SpecFromSource(*src), label: src.Name}, nil
}

// detectDriver guesses the engine of an uploaded file from its header.
func detectDriver(data []byte) string {
	switch {
	case bytes.HasPrefix(data, sqliteMagic):
		return "sqlite"
	case len(data) >= 12 && bytes.Equal(data[8:12], duckdbMagic):
		return "duckdb"
	default:
		return "sqlite"
	}
}

// begin fixes the request id so logs, the response and history agree.
func begin(r *http.Request) (context.Context, string) {
	id := pipeline.RequestID(r.Context())
	return pipeline.WithRequestID(r.Context(), id), id
}

// Schema returns the canonical schema of a source or uploaded file.
// POST /api/v1/schema
func (h *PipelineHandler) Schema(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, id := begin(r)

	req, err := h.parse(w, r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	tgt, err := h.resolve(ctx, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	schema, err := h.pipeline.GetSchema(ctx, tgt.spec)
	h.record(ctx, &model.HistoryRecord{ID: id, Source: tgt.label, Driver: tgt.spec.Driver}, err, start)
	if err != nil {
		writeAppError(w, err, map[string]any{"request_id": id})
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: schema,
		Meta: &model.ResponseMeta{
			Count:  len(schema.Tables),
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

// Analyze checks the schema of a source or uploaded file for normal-form
// problems and optionally counts and samples its tables.
// POST /api/v1/analyze
func (h *PipelineHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, id := begin(r)

	req, err := h.parse(w, r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	tgt, err := h.resolve(ctx, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	report, err := h.pipeline.AnalyzeSchema(ctx, tgt.spec, pipeline.AnalyzeOptions{
		RowCounts:  req.RowCounts,
		SampleRows: req.SampleRows,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	h.record(ctx, &model.HistoryRecord{ID: id, Source: tgt.label, Driver: tgt.spec.Driver}, err, start)
	if err != nil {
		writeAppError(w, err, map[string]any{"request_id": id})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Generate turns a question into a validated statement without running it.
// POST /api/v1/generate
func (h *PipelineHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, false)
}

// Ask generates a statement and, unless execute is false, runs it.
// POST /api/v1/ask
func (h *PipelineHandler) Ask(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, true)
}

func (h *PipelineHandler) ask(w http.ResponseWriter, r *http.Request, executeByDefault bool) {
	start := time.Now()
	ctx, id := begin(r)

	req, err := h.parse(w, r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeAppError(w, apperr.New(apperr.KindInvalidRequest, "question is required"))
		return
	}
	tgt, err := h.resolve(ctx, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	execute := executeByDefault
	if req.Execute != nil && executeByDefault {
		execute = *req.Execute
	}

	answer, err := h.pipeline.AskWith(ctx, tgt.spec, req.Question, pipeline.AskOptions{
		Provider: req.Provider,
		Execute:  execute,
		RowLimit: req.RowLimit,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})

	rec := &model.HistoryRecord{
		ID:       id,
		Source:   tgt.label,
		Driver:   tgt.spec.Driver,
		Question: req.Question,
		Provider: req.Provider,
	}
	if rec.Provider == "" {
		rec.Provider = h.pipeline.Settings().Provider
	}
	if gen := answer.Generation; gen != nil {
		rec.Statement = gen.Candidate.Text
		if gen.Statement != nil {
			rec.Statement = gen.Statement.Text
		}
	}
	if answer.Result != nil {
		rec.RowCount = answer.Result.RowCount
		rec.Truncated = answer.Result.Truncated
	}
	h.record(ctx, rec, err, start)

	if err != nil {
		details := map[string]any{"request_id": id}
		if answer.Generation != nil {
			details["candidate"] = answer.Generation.Candidate.Text
		}
		writeAppError(w, err, details)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// Execute validates and runs caller-supplied SQL.
// POST /api/v1/execute
func (h *PipelineHandler) Execute(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, id := begin(r)

	req, err := h.parse(w, r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	tgt, err := h.resolve(ctx, req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	result, err := h.pipeline.ExecuteStatement(ctx, tgt.spec, req.SQL, req.RowLimit, timeout)

	rec := &model.HistoryRecord{ID: id, Source: tgt.label, Driver: tgt.spec.Driver, Statement: req.SQL}
	if result != nil {
		rec.RowCount = result.RowCount
		rec.Truncated = result.Truncated
	}
	h.record(ctx, rec, err, start)

	if err != nil {
		writeAppError(w, err, map[string]any{"request_id": id})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// record writes the history row for a finished request. Failures to write
// are logged and never change the response.
func (h *PipelineHandler) record(ctx context.Context, rec *model.HistoryRecord, err error, start time.Time) {
	if !h.opts.RecordHistory || h.store == nil {
		return
	}
	if werr := h.store.RecordOutcome(context.WithoutCancel(ctx), rec, err, start, h.opts.HistoryKeep); werr != nil {
		h.logger.Warn("history write failed", "request_id", rec.ID, "error", werr)
	}
}
