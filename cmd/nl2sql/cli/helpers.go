package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/duckdb"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/mongo"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/mssql"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/mysql"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/postgres"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/snowflake"
	"github.com/saks635/NL2SQL-Convertor/internal/connector/sqlite"
	"github.com/saks635/NL2SQL-Convertor/internal/handler"
	"github.com/saks635/NL2SQL-Convertor/internal/llm"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
)

// app is everything a command needs, built from the effective settings.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	store    *config.Store
	registry *connector.Registry
	pipeline *pipeline.Pipeline
}

// loadSettings loads .env, the config file, NL2SQL_* variables and the
// command's flags; flagKeys maps flag names to setting keys.
func loadSettings(cmd *cobra.Command, flagKeys map[string]string) (config.Settings, error) {
	_ = godotenv.Load() // optional

	v, err := config.NewViper(cfgFile)
	if err != nil {
		return config.Settings{}, err
	}
	if f := cmd.Flags().Lookup("data-dir"); f != nil {
		if err := v.BindPFlag("data_dir", f); err != nil {
			return config.Settings{}, err
		}
	}
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Settings{}, err
			}
		}
	}
	settings, err := config.Load(v)
	if err != nil {
		return config.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if settings.DataDir == "" {
		settings.DataDir = defaultDataDir()
	}
	return settings, nil
}

// newApp loads the settings, opens the store and builds the pipeline.
// Sources declared in the config file are saved.
func newApp(cmd *cobra.Command, flagKeys map[string]string) (*app, error) {
	settings, err := loadSettings(cmd, flagKeys)
	if err != nil {
		return nil, err
	}

	logger := newLogger(os.Stderr, settings.Log, devMode)

	store, err := config.NewStore(settings.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Debug("store opened", "path", settings.DataDir)

	registry := newRegistry()
	ctx := cmd.Context()
	for _, y := range settings.Sources {
		src := y.Model()
		if err := handler.ValidateSource(&src, registry.Drivers()); err != nil {
			logger.Warn("configured source skipped", "source", y.Name, "error", err)
			continue
		}
		src.DSN = connector.SanitizeDSN(src.Driver, src.DSN)
		if err := store.UpsertSource(ctx, &src); err != nil {
			store.Close()
			return nil, fmt.Errorf("save configured source %q: %w", y.Name, err)
		}
	}

	creds, err := llm.LoadCredentials()
	if err != nil {
		store.Close()
		return nil, err
	}
	providers := llm.NewSet(creds, settings.LLMConfig())
	for _, p := range providers.List() {
		if !p.Available {
			logger.Debug("provider unavailable", "provider", p.Name, "reason", p.Reason)
		}
	}

	return &app{
		settings: settings,
		logger:   logger,
		store:    store,
		registry: registry,
		pipeline: pipeline.New(registry, providers, settings.Pipeline(), logger),
	}, nil
}

// Close releases pooled connections and the store.
func (a *app) Close() {
	a.registry.CloseAll()
	a.store.Close()
}

// newRegistry creates a connector registry with every supported driver.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	registry.RegisterDriver("duckdb", duckdb.New)
	registry.RegisterDriver("mysql", mysql.New)
	registry.RegisterDriver("postgres", postgres.New)
	registry.RegisterDriver("mssql", mssql.New)
	registry.RegisterDriver("mongo", mongo.New)
	registry.RegisterDriver("snowflake", snowflake.New)
	return registry
}

// newLogger builds the process logger. Logs always go to w, never stdout,
// so MCP stdio and piped query output stay clean.
func newLogger(w io.Writer, cfg config.LogConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" && !dev {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nl2sql"
	}
	return filepath.Join(home, ".nl2sql")
}

// target resolves what a query command runs against: a saved source by
// name, or a database file given with --file.
func (a *app) target(ctx context.Context, name, file string) (model.Source, error) {
	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return model.Source{}, fmt.Errorf("database file: %w", err)
		}
		return model.Source{Name: "file", Driver: fileDriver(file), Path: file}, nil
	}
	if name == "" {
		return model.Source{}, fmt.Errorf("a source name or --file is required")
	}
	src, err := a.store.GetSource(ctx, name)
	if err != nil {
		return model.Source{}, fmt.Errorf("source %q: %w", name, err)
	}
	return *src, nil
}

// fileDriver picks the file driver from the extension.
func fileDriver(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".duckdb", ".ddb":
		return "duckdb"
	default:
		return "sqlite"
	}
}

// record writes a history entry when history is enabled. Failures are
// logged, not returned.
func (a *app) record(ctx context.Context, rec *model.HistoryRecord, err error, start time.Time) {
	if !a.settings.History.Enabled {
		return
	}
	if werr := a.store.RecordOutcome(context.WithoutCancel(ctx), rec, err, start, a.settings.History.MaxEntries); werr != nil {
		a.logger.Warn("history write failed", "request_id", rec.ID, "error", werr)
	}
}

// Describe renders err for the terminal with credentials masked.
func Describe(err error) string {
	return connector.MaskDSN(err.Error())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
