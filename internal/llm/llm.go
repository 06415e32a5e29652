// Package llm provides the model providers that turn a prompt into a
// completion. Providers are stateless and never retry.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/caarlos0/env/v11"
)

// Provider is a model that completes a prompt.
type Provider interface {
	// Name returns the provider name for logging and error messages.
	Name() string

	// Complete sends text and returns the raw completion.
	Complete(ctx context.Context, text string) (string, error)
}

// Credentials holds provider keys and endpoints, read from the environment.
type Credentials struct {
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL"    envDefault:"gemini-2.0-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`

	CohereAPIKey  string `env:"COHERE_API_KEY"`
	CohereModel   string `env:"COHERE_MODEL"    envDefault:"command-r-plus"`
	CohereBaseURL string `env:"COHERE_BASE_URL" envDefault:"https://api.cohere.com"`
}

// LoadCredentials parses Credentials from the process environment.
func LoadCredentials() (Credentials, error) {
	var c Credentials
	if err := env.Parse(&c); err != nil {
		return Credentials{}, fmt.Errorf("parse provider environment: %w", err)
	}
	return c, nil
}

// Config tunes the HTTP providers.
type Config struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Provider names.
const (
	Gemini = "gemini"
	Cohere = "cohere"
)

// Names lists the providers this package can build.
func Names() []string {
	return []string{Gemini, Cohere}
}

// NewProvider creates the named provider.
func NewProvider(name string, creds Credentials, cfg Config) (Provider, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	client := &http.Client{Timeout: cfg.Timeout}

	switch name {
	case Gemini:
		if creds.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for provider %q", name)
		}
		return &GeminiProvider{
			apiKey:  creds.GeminiAPIKey,
			model:   creds.GeminiModel,
			baseURL: creds.GeminiBaseURL,
			cfg:     cfg,
			client:  client,
		}, nil
	case Cohere:
		if creds.CohereAPIKey == "" {
			return nil, fmt.Errorf("COHERE_API_KEY is required for provider %q", name)
		}
		return &CohereProvider{
			apiKey:  creds.CohereAPIKey,
			model:   creds.CohereModel,
			baseURL: creds.CohereBaseURL,
			cfg:     cfg,
			client:  client,
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %q (supported: gemini, cohere)", name)
	}
}

// Set holds the providers a process has credentials for.
type Set struct {
	providers map[string]Provider
	errs      map[string]error
}

// NewSet builds every known provider, remembering why unavailable ones
// could not be built.
func NewSet(creds Credentials, cfg Config) *Set {
	s := &Set{providers: map[string]Provider{}, errs: map[string]error{}}
	for _, name := range Names() {
		p, err := NewProvider(name, creds, cfg)
		if err != nil {
			s.errs[name] = err
			continue
		}
		s.providers[name] = p
	}
	return s
}

// NewSetOf wraps already-built providers, keyed by Name.
func NewSetOf(providers ...Provider) *Set {
	s := &Set{providers: map[string]Provider{}, errs: map[string]error{}}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Get returns the named provider.
func (s *Set) Get(name string) (Provider, error) {
	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("unknown provider: %q", name)
}

// Availability describes one provider for listing.
type Availability struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// List reports every provider, available or not, sorted by name.
func (s *Set) List() []Availability {
	var out []Availability
	for name := range s.providers {
		out = append(out, Availability{Name: name, Available: true})
	}
	for name, err := range s.errs {
		out = append(out, Availability{Name: name, Reason: err.Error()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
