package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/sqlite"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

// fakeProvider returns a fixed completion.
type fakeProvider struct {
	completion string
	calls      int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(context.Context, string) (string, error) {
	f.calls++
	return f.completion, nil
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *config.Store
	registry *connector.Registry
	provider *fakeProvider
	shopPath string
	router   chi.Router
	logs     *bytes.Buffer
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// sqlite-only registry, a fake provider, a saved "shop" source and a Chi
// router with routes mounted (no auth or rate limiting).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	t.Cleanup(registry.CloseAll)

	provider := &fakeProvider{}
	settings := pipeline.DefaultSettings()
	settings.Provider = "fake"
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	p := pipeline.New(registry, llm.NewSetOf(provider), settings, logger)

	shopPath := createShop(t)
	if err := store.CreateSource(context.Background(), &model.Source{
		Name: "shop", Driver: "sqlite", Path: shopPath,
	}); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	pipeHandler := NewPipelineHandler(p, store, PipelineOptions{
		MaxUploadSize: 1 << 20,
		RecordHistory: true,
		HistoryKeep:   100,
		Logger:        logger,
	})
	sysHandler := NewSystemHandler(store, registry, llm.NewSetOf(provider), logger)

	r := chi.NewRouter()
	r.Get("/healthz", sysHandler.Healthz)
	r.Get("/readyz", sysHandler.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/providers", sysHandler.ListProviders)

		r.Post("/schema", pipeHandler.Schema)
		r.Post("/analyze", pipeHandler.Analyze)
		r.Post("/generate", pipeHandler.Generate)
		r.Post("/execute", pipeHandler.Execute)
		r.Post("/ask", pipeHandler.Ask)

		r.Get("/sources", sysHandler.ListSources)
		r.Post("/sources", sysHandler.CreateSource)
		r.Delete("/sources/{name}", sysHandler.DeleteSource)
		r.Post("/sources/{name}/test", sysHandler.TestSource)

		r.Get("/history", sysHandler.ListHistory)
		r.Get("/history/{id}", sysHandler.GetHistory)
	})

	return &testEnv{
		store:    store,
		registry: registry,
		provider: provider,
		shopPath: shopPath,
		router:   r,
		logs:     logs,
	}
}

func createShop(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), total REAL)`,
		`INSERT INTO customers (id, name, city) VALUES (1, 'Ada', 'Paris'), (2, 'Bo', 'Oslo'), (3, 'Cy', 'Paris')`,
		`INSERT INTO orders (id, customer_id, total) VALUES (1, 1, 10.5), (2, 3, 99)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

// do sends a request through the router and returns the recorded response.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// toJSON marshals v into a JSON buffer for use as a request body.
func toJSON(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return bytes.NewBuffer(b)
}

// assertStatus checks the HTTP status code and fails with the body on mismatch.
func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

// decodeJSON decodes the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rr.Body.String())
	}
}
