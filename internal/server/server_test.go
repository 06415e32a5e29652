package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/sqlite"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
	"github.com/saks635/NL2SQL-Convertor/internal/service"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testJWTSecret = "test-secret-for-jwt-integration-tests"

type fakeProvider struct{ completion string }

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(context.Context, string) (string, error) {
	return f.completion, nil
}

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *config.Store
	authSvc *service.AuthService
}

// newTestEnv creates a fully wired Server over an in-memory store with a
// saved sqlite "shop" source. withAuth turns bearer auth on.
func newTestEnv(t *testing.T, cfg Config, withAuth bool) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	t.Cleanup(registry.CloseAll)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	settings := pipeline.DefaultSettings()
	settings.Provider = "fake"
	provider := &fakeProvider{completion: "SELECT name FROM customers ORDER BY id"}
	p := pipeline.New(registry, llm.NewSetOf(provider), settings, logger)

	if err := store.CreateSource(context.Background(), &model.Source{
		Name: "shop", Driver: "sqlite", Path: createShop(t),
	}); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}

	var authSvc *service.AuthService
	if withAuth {
		authSvc = service.NewAuthService(testJWTSecret)
	}

	return &testEnv{
		server:  New(cfg, p, store, authSvc, logger),
		store:   store,
		authSvc: authSvc,
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
	for _, s := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`INSERT INTO customers (id, name, city) VALUES (1, 'Ada', 'Paris'), (2, 'Bo', 'Oslo')`,
	} {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

// do sends a request through the server with an optional bearer token.
func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthAndDocs(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	assertStatus(t, env.do(t, "GET", "/healthz", nil, ""), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/readyz", nil, ""), http.StatusOK)

	rr := env.do(t, "GET", "/openapi.json", nil, "")
	assertStatus(t, rr, http.StatusOK)
	var doc map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if doc["openapi"] != "3.1.0" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
}

func TestAskRoute(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	rr := env.do(t, "POST", "/api/v1/ask", map[string]any{"source": "shop", "question": "names?"}, "")
	assertStatus(t, rr, http.StatusOK)

	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	var answer struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&answer); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if answer.RequestID != rr.Header().Get("X-Request-ID") {
		t.Errorf("request_id %q differs from header %q", answer.RequestID, rr.Header().Get("X-Request-ID"))
	}

	rec, err := env.store.GetHistory(context.Background(), answer.RequestID)
	if err != nil {
		t.Fatalf("history for %s: %v", answer.RequestID, err)
	}
	if rec.Stage != "done" {
		t.Errorf("stage = %q", rec.Stage)
	}
}

func TestHistoryDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordHistory = false
	env := newTestEnv(t, cfg, false)

	assertStatus(t, env.do(t, "POST", "/api/v1/ask", map[string]any{"source": "shop", "question": "names?"}, ""), http.StatusOK)

	records, err := env.store.ListHistory(context.Background(), config.HistoryFilter{})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("history written while disabled: %d records", len(records))
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), true)
	token, err := env.authSvc.IssueToken("alice", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health stays open", "GET", "/healthz", "", http.StatusOK},
		{"docs stay open", "GET", "/openapi.json", "", http.StatusOK},
		{"sources need a token", "GET", "/api/v1/sources", "", http.StatusUnauthorized},
		{"bad token", "GET", "/api/v1/sources", "not-a-jwt", http.StatusUnauthorized},
		{"valid token", "GET", "/api/v1/sources", token, http.StatusOK},
		{"history with token", "GET", "/api/v1/history", token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, env.do(t, tt.method, tt.path, nil, tt.token), tt.want)
		})
	}
}

func TestPipelineRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	env := newTestEnv(t, cfg, false)

	body := map[string]any{"source": "shop"}
	assertStatus(t, env.do(t, "POST", "/api/v1/schema", body, ""), http.StatusOK)
	assertStatus(t, env.do(t, "POST", "/api/v1/schema", body, ""), http.StatusTooManyRequests)

	// non-pipeline routes are not limited
	assertStatus(t, env.do(t, "GET", "/api/v1/sources", nil, ""), http.StatusOK)
	assertStatus(t, env.do(t, "GET", "/api/v1/sources", nil, ""), http.StatusOK)
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"https://app.example.com"}
	env := newTestEnv(t, cfg, false)

	req := httptest.NewRequest("OPTIONS", "/api/v1/ask", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)
	assertStatus(t, env.do(t, "GET", "/api/v2/anything", nil, ""), http.StatusNotFound)
}

func TestFromSettings(t *testing.T) {
	s := config.Default()
	s.Server.Port = 9999
	s.Server.MaxUploadSize = "2MB"
	s.Server.ShutdownTimeout = "5s"
	s.History.MaxEntries = 10

	cfg, err := FromSettings(s, "1.0.0")
	if err != nil {
		t.Fatalf("FromSettings: %v", err)
	}
	if cfg.Port != 9999 || cfg.MaxUploadSize != 2<<20 || cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HistoryKeep != 10 || cfg.Version != "1.0.0" {
		t.Errorf("cfg = %+v", cfg)
	}

	s.Server.MaxUploadSize = "lots"
	if _, err := FromSettings(s, ""); err == nil {
		t.Error("expected error for bad max_upload_size")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
