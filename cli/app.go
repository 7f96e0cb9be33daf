// Application wiring shared by every command.
//
// Information Hiding:
// - Cache backend selection hidden behind storage.Cache
// - Provider construction deferred until a live call needs a credential
// - Resource cleanup collected in App.Close

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/richinex/tutor/config"
	"github.com/richinex/tutor/gateway"
	"github.com/richinex/tutor/llm"
	"github.com/richinex/tutor/ocr"
	"github.com/richinex/tutor/quiz"
	"github.com/richinex/tutor/storage"
	"github.com/richinex/tutor/telemetry"
)

// Options holds CLI execution options.
type Options struct {
	Provider     string
	ConfigPath   string
	CacheBackend string
	CachePath    string
	DBPath       string
	Verbose      bool

	// JSONLogs switches the log handler to JSON, as serve does.
	JSONLogs bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// App is a configured tutor: settings, cache, gateway and call sites.
type App struct {
	Settings config.Settings
	Cache    storage.Cache
	Gateway  *gateway.Gateway
	Tutor    *quiz.Tutor
	Metrics  *telemetry.Metrics
	Registry *prometheus.Registry
	Logger   *slog.Logger

	opts    Options
	sqlite  *storage.SqliteStorage
	closers []func() error
}

// Open loads settings and wires the tutor. No credential is read until the
// first cache miss.
func Open(ctx context.Context, opts Options) (*App, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	logger := newLogger(opts.Stderr, opts.Verbose, opts.JSONLogs)
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	app := &App{
		Settings: settings,
		Metrics:  metrics,
		Registry: registry,
		Logger:   logger,
		opts:     opts,
	}

	app.Cache, err = app.openCache(ctx)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, app.Cache.Close)

	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		app.Close()
		return nil, err
	}
	envVar, err := config.APIKeyEnv(settings.LLM.Provider)
	if err != nil {
		app.Close()
		return nil, err
	}

	retry := gateway.DefaultRetryPolicy()
	retry.MaxRetries = settings.Gateway.MaxRetries
	retry.Timeout = settings.Gateway.Timeout

	llmCfg := settings.LLM
	app.Gateway, err = gateway.New(gateway.Options{
		Factory: func(apiKey string) (llm.Provider, error) {
			return providerType.
				Model(llmCfg.Model).
				BaseURL(llmCfg.BaseURL).
				MaxTokens(llmCfg.MaxTokens).
				Temperature(float32(llmCfg.Temperature)).
				APIKey(apiKey)
		},
		ProviderName:      providerType.String(),
		Credential:        gateway.EnvCredential(envVar),
		Cache:             app.Cache,
		Retry:             &retry,
		ValidateArguments: settings.Gateway.ValidateArguments,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	recognizer := ocr.NewVisionClient(ocr.Options{
		Endpoint: settings.OCR.Endpoint,
		Logger:   logger,
		Metrics:  metrics,
	})
	app.Tutor = quiz.New(app.Gateway, recognizer, logger)

	logger.Debug("tutor ready",
		"provider", providerType.String(),
		"model", llmCfg.Model,
		"cache", settings.Cache.Backend)
	return app, nil
}

// Sessions returns the SQLite conversation store, opening it on first use.
// The sqlite cache backend shares the same database.
func (a *App) Sessions() (storage.ConversationStorage, error) {
	if a.sqlite != nil {
		return a.sqlite, nil
	}
	s, err := storage.OpenSqlite(a.Settings.Cache.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.sqlite = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Close releases every resource Open acquired, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) openCache(ctx context.Context) (storage.Cache, error) {
	cfg := a.Settings.Cache
	switch cfg.Backend {
	case config.CacheFile:
		c := storage.NewFileCache(cfg.Path, a.Logger)
		if err := c.Init(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case config.CacheSqlite:
		s, err := storage.OpenSqlite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache database: %w", err)
		}
		a.sqlite = s
		return s, nil
	case config.CacheMemory:
		return storage.NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func loadSettings(opts Options) (config.Settings, error) {
	var (
		settings config.Settings
		err      error
	)
	if opts.ConfigPath != "" {
		settings, err = config.Load(opts.ConfigPath, opts.Provider)
	} else {
		settings, err = config.New(opts.Provider)
	}
	if err != nil {
		return config.Settings{}, err
	}

	if opts.CacheBackend != "" {
		settings.Cache.Backend = opts.CacheBackend
	}
	if opts.CachePath != "" {
		settings.Cache.Path = opts.CachePath
	}
	if opts.DBPath != "" {
		settings.Cache.DBPath = opts.DBPath
	}
	return settings, nil
}

func newLogger(w io.Writer, verbose, jsonFormat bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		if !verbose {
			handlerOpts.Level = slog.LevelInfo
		}
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
