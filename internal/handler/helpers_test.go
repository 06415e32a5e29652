package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?offset=0", "offset", 10, 0},
		{"parses negative", "/test?offset=-5", "offset", 0, -5},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		val, min, max, want int
	}{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{11, 1, 10, 10},
		{1, 1, 1, 1},
	}
	for _, tt := range tests {
		if got := clampInt(tt.val, tt.min, tt.max); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
		}
	}
}

func TestFormInt(t *testing.T) {
	r := httptest.NewRequest("POST", "/test?row_limit=7&timeout_ms=x", nil)
	if n, err := formInt(r, "row_limit"); err != nil || n != 7 {
		t.Errorf("formInt(row_limit) = %d, %v; want 7, nil", n, err)
	}
	if n, err := formInt(r, "missing"); err != nil || n != 0 {
		t.Errorf("formInt(missing) = %d, %v; want 0, nil", n, err)
	}
	if _, err := formInt(r, "timeout_ms"); err == nil {
		t.Error("expected error for non-integer timeout_ms")
	}
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"name": "shop"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["name"] != "shop" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "bad input", map[string]any{"field": "question"})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var resp model.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != 400 || resp.Error.Message != "bad input" {
		t.Errorf("error = %+v", resp.Error)
	}
	if resp.Error.Context["field"] != "question" {
		t.Errorf("context = %v", resp.Error.Context)
	}
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
		wantRule string
		wantMsg  string
	}{
		{
			name:     "unsafe statement",
			err:      apperr.Unsafe("mutation_statement", "statement modifies data"),
			wantCode: http.StatusUnprocessableEntity,
			wantKind: "unsafe_statement",
			wantRule: "mutation_statement",
			wantMsg:  "statement modifies data",
		},
		{
			name:     "connection error",
			err:      apperr.New(apperr.KindConnection, "could not connect"),
			wantCode: http.StatusBadGateway,
			wantKind: "connection_error",
			wantMsg:  "could not connect",
		},
		{
			name:     "timeout",
			err:      apperr.New(apperr.KindExecutionTimeout, "statement timed out"),
			wantCode: http.StatusGatewayTimeout,
			wantKind: "execution_timeout",
			wantMsg:  "statement timed out",
		},
		{
			name:     "not found",
			err:      apperr.New(apperr.KindNotFound, "source not found: shop"),
			wantCode: http.StatusNotFound,
			wantKind: "not_found",
			wantMsg:  "source not found: shop",
		},
		{
			name:     "unclassified error hides its text",
			err:      errors.New("password=hunter2 leaked"),
			wantCode: http.StatusInternalServerError,
			wantKind: "internal",
			wantMsg:  "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeAppError(w, tt.err)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp model.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", resp.Error.Kind, tt.wantKind)
			}
			if resp.Error.Rule != tt.wantRule {
				t.Errorf("rule = %q, want %q", resp.Error.Rule, tt.wantRule)
			}
			if resp.Error.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Error.Message, tt.wantMsg)
			}
		})
	}
}

func TestReadJSON(t *testing.T) {
	type body struct {
		Question string `json:"question"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"valid", `{"question":"how many"}`, ""},
		{"empty body", ``, "request body is empty"},
		{"unknown field", `{"question":"x","bogus":1}`, "unknown field"},
		{"malformed", `{"question":`, "unexpected EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.payload))
			w := httptest.NewRecorder()
			var b body
			err := readJSON(w, r, &b)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if b.Question != "how many" {
					t.Errorf("Question = %q", b.Question)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadJSONTooLarge(t *testing.T) {
	big := `{"question":"` + strings.Repeat("a", maxJSONBody) + `"}`
	r := httptest.NewRequest("POST", "/", strings.NewReader(big))
	w := httptest.NewRecorder()
	var v map[string]any
	if err := readJSON(w, r, &v); err == nil {
		t.Fatal("expected error for oversized body")
	}
}
