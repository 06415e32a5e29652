package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

// Settings is the typed nl2sql configuration. It is read from nl2sql.yaml,
// NL2SQL_* environment variables and command flags, in increasing priority.
type Settings struct {
	Provider           string   `yaml:"provider" mapstructure:"provider"`
	RowLimit           int      `yaml:"row_limit" mapstructure:"row_limit"`
	ExecutionTimeoutMs int      `yaml:"execution_timeout_ms" mapstructure:"execution_timeout_ms"`
	AllowMutations     bool     `yaml:"allow_mutations" mapstructure:"allow_mutations"`
	SchemaSampleSize   int      `yaml:"schema_sample_size" mapstructure:"schema_sample_size"`
	MaxSchemaChars     int      `yaml:"max_schema_chars" mapstructure:"max_schema_chars"`
	ExcludeTables      []string `yaml:"exclude_tables" mapstructure:"exclude_tables"`
	DataDir            string   `yaml:"data_dir" mapstructure:"data_dir"`

	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Auth    AuthConfig    `yaml:"auth" mapstructure:"auth"`
	MCP     MCPConfig     `yaml:"mcp" mapstructure:"mcp"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Sources []SourceYAML  `yaml:"sources" mapstructure:"sources"`
}

// LLMConfig tunes provider calls. Credentials come from the environment.
type LLMConfig struct {
	Timeout     string  `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	MaxUploadSize   string     `yaml:"max_upload_size" mapstructure:"max_upload_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimit       int        `yaml:"rate_limit" mapstructure:"rate_limit"` // pipeline requests per IP per minute
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
	Methods []string `yaml:"methods" mapstructure:"methods"`
}

// AuthConfig controls bearer token authentication. Auth is on when Enabled
// is set or JWTSecret is given. Without a configured secret the store
// generates and keeps one.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry" mapstructure:"jwt_expiry"`
}

// On reports whether requests must carry a bearer token.
func (a AuthConfig) On() bool {
	return a.Enabled || a.JWTSecret != ""
}

// Expiry returns the token lifetime, 24h when unset or invalid.
func (a AuthConfig) Expiry() time.Duration {
	d, err := time.ParseDuration(a.JWTExpiry)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"` // stdio or http
	Port      int    `yaml:"port" mapstructure:"port"`
}

// HistoryConfig bounds the request history.
type HistoryConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	MaxEntries int  `yaml:"max_entries" mapstructure:"max_entries"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SourceYAML declares a source in the configuration file. Declared sources
// are saved to the store when the server starts.
type SourceYAML struct {
	Name           string `yaml:"name" mapstructure:"name"`
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DSN            string `yaml:"dsn,omitempty" mapstructure:"dsn"`
	Path           string `yaml:"path,omitempty" mapstructure:"path"`
	Schema         string `yaml:"schema,omitempty" mapstructure:"schema"`
	AllowMutations bool   `yaml:"allow_mutations,omitempty" mapstructure:"allow_mutations"`
	MaxOpenConns   int    `yaml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
}

// Model converts the declaration to a saved source.
func (y SourceYAML) Model() model.Source {
	src := model.Source{
		Name:           y.Name,
		Driver:         y.Driver,
		DSN:            y.DSN,
		Path:           y.Path,
		Schema:         y.Schema,
		AllowMutations: y.AllowMutations,
		Pool:           model.DefaultPoolConfig(),
	}
	if y.MaxOpenConns > 0 {
		src.Pool.MaxOpenConns = y.MaxOpenConns
	}
	return src
}

// Default returns Settings pre-filled with the documented defaults.
func Default() Settings {
	return Settings{
		Provider:           llm.Gemini,
		RowLimit:           200,
		ExecutionTimeoutMs: 5000,
		SchemaSampleSize:   50,
		MaxSchemaChars:     12000,
		LLM: LLMConfig{
			Timeout:     "60s",
			MaxTokens:   512,
			Temperature: 0.2,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			MaxUploadSize:   "50MB",
			ShutdownTimeout: "30s",
			RateLimit:       60,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "DELETE"},
			},
		},
		Auth: AuthConfig{JWTExpiry: "24h"},
		MCP:  MCPConfig{Transport: "stdio", Port: 8090},
		History: HistoryConfig{
			Enabled:    true,
			MaxEntries: 1000,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate reports every invalid setting at once.
func (s Settings) Validate() error {
	var errs []error
	positive := []struct {
		key string
		v   int
	}{
		{"row_limit", s.RowLimit},
		{"execution_timeout_ms", s.ExecutionTimeoutMs},
		{"schema_sample_size", s.SchemaSampleSize},
		{"max_schema_chars", s.MaxSchemaChars},
		{"llm.max_tokens", s.LLM.MaxTokens},
		{"server.port", s.Server.Port},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than 0, got %d", p.key, p.v))
		}
	}

	known := false
	for _, name := range llm.Names() {
		if s.Provider == name {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("provider must be one of %s, got %q", strings.Join(llm.Names(), ", "), s.Provider))
	}

	durations := map[string]string{
		"llm.timeout":             s.LLM.Timeout,
		"server.shutdown_timeout": s.Server.ShutdownTimeout,
		"auth.jwt_expiry":         s.Auth.JWTExpiry,
	}
	for key, v := range durations {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", key, v))
		}
	}
	if _, err := ParseSize(s.Server.MaxUploadSize); err != nil {
		errs = append(errs, fmt.Errorf("server.max_upload_size: %w", err))
	}
	if s.MCP.Transport != "stdio" && s.MCP.Transport != "http" {
		errs = append(errs, fmt.Errorf("mcp.transport must be stdio or http, got %q", s.MCP.Transport))
	}
	for i, src := range s.Sources {
		if src.Name == "" || src.Driver == "" {
			errs = append(errs, fmt.Errorf("sources[%d] needs a name and a driver", i))
		}
	}
	return errors.Join(errs...)
}

// Pipeline returns the pipeline defaults these settings describe.
func (s Settings) Pipeline() pipeline.Settings {
	return pipeline.Settings{
		Provider:         s.Provider,
		RowLimit:         s.RowLimit,
		ExecutionTimeout: time.Duration(s.ExecutionTimeoutMs) * time.Millisecond,
		AllowMutations:   s.AllowMutations,
		SampleSize:       s.SchemaSampleSize,
		MaxSchemaChars:   s.MaxSchemaChars,
		Exclude:          s.ExcludeTables,
	}
}

// LLMConfig returns the provider call settings. Call after Validate.
func (s Settings) LLMConfig() llm.Config {
	timeout, _ := time.ParseDuration(s.LLM.Timeout)
	return llm.Config{Timeout: timeout, MaxTokens: s.LLM.MaxTokens, Temperature: s.LLM.Temperature}
}

// ParseSize parses sizes such as "512KB", "50MB" or "1GB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	units := []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			var n int64
			if _, err := fmt.Sscanf(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), "%d", &n); err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid size %q", s)
			}
			return n * u.mult, nil
		}
	}
	return 0, fmt.Errorf("invalid size %q", s)
}

// LoadFile reads a YAML configuration file over the defaults. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before
// parsing.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}

	s := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return Settings{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return s, nil
}

// WriteDefault writes the default configuration to a YAML file. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SetDefaults registers every default with v so environment variables and
// flags can override keys the file does not mention.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"provider":                d.Provider,
		"row_limit":               d.RowLimit,
		"execution_timeout_ms":    d.ExecutionTimeoutMs,
		"allow_mutations":         d.AllowMutations,
		"schema_sample_size":      d.SchemaSampleSize,
		"max_schema_chars":        d.MaxSchemaChars,
		"exclude_tables":          d.ExcludeTables,
		"data_dir":                d.DataDir,
		"llm.timeout":             d.LLM.Timeout,
		"llm.max_tokens":          d.LLM.MaxTokens,
		"llm.temperature":         d.LLM.Temperature,
		"server.host":             d.Server.Host,
		"server.port":             d.Server.Port,
		"server.max_upload_size":  d.Server.MaxUploadSize,
		"server.shutdown_timeout": d.Server.ShutdownTimeout,
		"server.rate_limit":       d.Server.RateLimit,
		"server.cors.origins":     d.Server.CORS.Origins,
		"server.cors.methods":     d.Server.CORS.Methods,
		"auth.enabled":            d.Auth.Enabled,
		"auth.jwt_secret":         d.Auth.JWTSecret,
		"auth.jwt_expiry":         d.Auth.JWTExpiry,
		"mcp.transport":           d.MCP.Transport,
		"mcp.port":                d.MCP.Port,
		"history.enabled":         d.History.Enabled,
		"history.max_entries":     d.History.MaxEntries,
		"log.level":               d.Log.Level,
		"log.format":              d.Log.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load builds Settings from v. The caller has already pointed v at the
// config file, environment and flags.
func Load(v *viper.Viper) (Settings, error) {
	s := Default()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// NewViper returns a viper instance that reads nl2sql.yaml from cfgFile, the
// working directory or $HOME/.nl2sql, and NL2SQL_* environment variables
// with dots replaced by underscores.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("nl2sql")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nl2sql")
	}

	v.SetEnvPrefix("NL2SQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}
