package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

var sourceNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// SystemHandler manages saved sources and reports on providers, history and
// health.
type SystemHandler struct {
	store     *config.Store
	registry  *connector.Registry
	providers *llm.Set
	logger    *slog.Logger
}

// NewSystemHandler creates a new SystemHandler. A nil logger uses
// slog.Default.
func NewSystemHandler(store *config.Store, registry *connector.Registry, providers *llm.Set, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{
		store:     store,
		registry:  registry,
		providers: providers,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Healthz reports that the process is up.
// GET /healthz
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings the store and every live source pool.
// GET /readyz
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "sources": "ok"}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.registry.Ping(ctx); err != nil {
		checks["sources"] = connector.MaskDSN(err.Error())
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

// ListProviders returns every provider and whether it has credentials.
// GET /api/v1/providers
func (h *SystemHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers := h.providers.List()
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: providers,
		Meta:     &model.ResponseMeta{Count: len(providers)},
	})
}

// ---------------------------------------------------------------------------
// Source management
// ---------------------------------------------------------------------------

// ListSources returns all saved sources with credentials masked.
// GET /api/v1/sources
func (h *SystemHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context())
	if err != nil {
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to list sources"))
		return
	}

	resources := make([]model.Source, 0, len(sources))
	for _, src := range sources {
		resources = append(resources, connector.Public(src))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

// CreateSource saves a new named source.
// POST /api/v1/sources
func (h *SystemHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var src model.Source
	if err := readJSON(w, r, &src); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := ValidateSource(&src, h.registry.Drivers()); err != nil {
		writeAppError(w, err)
		return
	}
	src.DSN = connector.SanitizeDSN(src.Driver, src.DSN)

	if err := h.store.CreateSource(r.Context(), &src); err != nil {
		if errors.Is(err, config.ErrConflict) {
			writeError(w, http.StatusConflict, "source already exists: "+src.Name)
			return
		}
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to create source"))
		return
	}

	writeJSON(w, http.StatusCreated, connector.Public(src))
}

// DeleteSource removes a saved source and closes its pool.
// DELETE /api/v1/sources/{name}
func (h *SystemHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	src, err := h.store.GetSource(r.Context(), name)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found: "+name)
			return
		}
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to get source"))
		return
	}

	if err := h.store.DeleteSource(r.Context(), name); err != nil {
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to delete source"))
		return
	}
	spec := connector.SpecFromSource(*src)
	if err := h.registry.Evict(spec); err != nil {
		h.logger.Warn("closing source pool failed", "source", name, "driver", spec.Driver, "error", spec.Redact(err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "source '" + name + "' deleted",
	})
}

// TestSource connects to a saved source and pings it.
// POST /api/v1/sources/{name}/test
func (h *SystemHandler) TestSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	src, err := h.store.GetSource(r.Context(), name)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found: "+name)
			return
		}
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to get source"))
		return
	}

	start := time.Now()
	if err := CheckConnection(r.Context(), h.registry, connector.SpecFromSource(*src)); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "connection successful",
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// CheckConnection acquires a connection for spec, pings it and releases it.
func CheckConnection(ctx context.Context, registry *connector.Registry, spec connector.ConnectionSpec) error {
	conn, err := registry.Acquire(ctx, spec)
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	if err := conn.Ping(ctx); err != nil {
		return apperr.Wrap(err, apperr.KindConnection, "ping failed: "+spec.Redact(err.Error()))
	}
	return nil
}

// ValidateSource checks a source before it is saved. drivers lists the
// registered driver names.
func ValidateSource(src *model.Source, drivers []string) error {
	switch {
	case !sourceNameRe.MatchString(src.Name):
		return apperr.New(apperr.KindInvalidRequest,
			"source name must start with a letter or digit and contain only letters, digits, '_', '.' or '-'")
	case src.Driver == "":
		return apperr.New(apperr.KindInvalidRequest, "driver is required")
	case !slices.Contains(drivers, src.Driver):
		return apperr.Newf(apperr.KindInvalidRequest, "unsupported driver %q (supported: %v)", src.Driver, drivers)
	}

	if connector.IsFileDriver(src.Driver) {
		if src.Path == "" && src.DSN == "" {
			return apperr.Newf(apperr.KindInvalidRequest, "%s sources need a path", src.Driver)
		}
		return nil
	}
	if src.DSN == "" && src.Host == "" {
		return apperr.Newf(apperr.KindInvalidRequest, "%s sources need a dsn or a host", src.Driver)
	}
	if src.Port < 0 || src.Port > 65535 {
		return apperr.New(apperr.KindInvalidRequest, "port must be between 0 and 65535")
	}
	return nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// ListHistory returns recent requests, newest first.
// GET /api/v1/history?source=&stage=&limit=
func (h *SystemHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampInt(queryInt(r, "limit", 50), 1, 1000)
	records, err := h.store.ListHistory(r.Context(), config.HistoryFilter{
		Source: q.Get("source"),
		Stage:  q.Get("stage"),
		Limit:  limit,
	})
	if err != nil {
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to list history"))
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: records,
		Meta: &model.ResponseMeta{
			Count: len(records),
			Limit: limit,
		},
	})
}

// GetHistory returns one request by id.
// GET /api/v1/history/{id}
func (h *SystemHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.store.GetHistory(r.Context(), id)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			writeError(w, http.StatusNotFound, "history record not found: "+id)
			return
		}
		writeAppError(w, apperr.Wrap(err, apperr.KindInternal, "failed to get history"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
