package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/tarsy-run/tarsy/pkg/broadcast"
	"github.com/tarsy-run/tarsy/pkg/cancel"
	"github.com/tarsy-run/tarsy/pkg/config"
	"github.com/tarsy-run/tarsy/pkg/events"
	"github.com/tarsy-run/tarsy/pkg/history"
	"github.com/tarsy-run/tarsy/pkg/hooks"
	"github.com/tarsy-run/tarsy/pkg/llm"
	"github.com/tarsy-run/tarsy/pkg/metrics"
	"github.com/tarsy-run/tarsy/pkg/scheduler"
	"github.com/tarsy-run/tarsy/pkg/session"
)

// app bundles every process-wide singleton spec.md §5's "shared resource
// policy" calls out: the hook manager, the cancellation tracker, the
// history facade, and the broadcast fabric, wired together once at
// startup (teacher's cmd/tarsy/main.go, extended to this module's scope).
type app struct {
	Config    *config.Config
	Store     history.Store
	Hub       *broadcast.Hub
	Publisher *events.Publisher
	Scheduler *scheduler.Scheduler
	Sessions  *session.Manager
	Metrics   *metrics.Metrics

	historyDisabled bool
}

// buildApp loads configuration and wires every component. Callers decide
// what to do with the result (serve, run a one-shot sweep, exit).
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	store, historyDisabled, err := buildStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("build history store: %w", err)
	}

	mtr := metrics.New()

	hub := broadcast.NewHub(
		envDuration("BROADCAST_WRITE_TIMEOUT", 5*time.Second),
		broadcast.NewBatcher(envBool("BROADCAST_BATCH_ENABLED", false), envInt("BROADCAST_BATCH_MAX_SIZE", 20), envDuration("BROADCAST_BATCH_MAX_AGE", 2*time.Second)),
		broadcast.NewThrottler(nil),
	)
	hub.Metrics = mtr
	pub := events.NewPublisher(hub)

	mgr := hooks.NewManager()
	hooks.Bind(mgr, store, pub)

	providers := buildProviders(cfg)
	defaultProvider := getEnv("DEFAULT_LLM_PROVIDER", "")

	sched := scheduler.New(cfg, store, mgr, pub, cancel.NewTracker(), providers, defaultProvider)
	sched.IterationTimeout = envDuration("LLM_ITERATION_TIMEOUT", 0)
	sched.Metrics = mtr
	sched.Parallel.Metrics = mtr
	sched.Streaming = envBool("ENABLE_LLM_STREAMING", false)
	sched.Parallel.Streaming = sched.Streaming

	sessions := session.New(cfg, store, sched)

	return &app{
		Config: cfg, Store: store, Hub: hub, Publisher: pub,
		Scheduler: sched, Sessions: sessions, Metrics: mtr, historyDisabled: historyDisabled,
	}, nil
}

// buildStore selects the history backend per spec.md §6: disabled by
// configuration degrades to NoopStore; test mode (no database URL
// configured) auto-selects the in-memory store; otherwise it connects to
// Postgres and a connection failure also degrades to NoopStore rather
// than aborting startup (spec.md §4.3 "the facade marks itself unhealthy;
// the rest of the system continues").
func buildStore(ctx context.Context) (history.Store, bool, error) {
	if !envBool("HISTORY_ENABLED", true) {
		return &history.NoopStore{Reason: "disabled by configuration"}, true, nil
	}

	dsn := getEnv("HISTORY_DATABASE_URL", "")
	if dsn == "" {
		slog.Info("history: no HISTORY_DATABASE_URL configured, using in-memory store")
		return history.NewMemoryStore(), false, nil
	}

	store, err := history.Connect(ctx, history.Config{
		DSN:             dsn,
		PoolSize:        int32(envInt("POSTGRES_POOL_SIZE", 5)),
		MaxOverflow:     int32(envInt("POSTGRES_MAX_OVERFLOW", 10)),
		PoolTimeout:     envDuration("POSTGRES_POOL_TIMEOUT", 30*time.Second),
		PoolRecycle:     envDuration("POSTGRES_POOL_RECYCLE", time.Hour),
		HealthCheckPing: envBool("POSTGRES_POOL_PRE_PING", true),
	})
	if err != nil {
		slog.Error("history: failed to connect, degrading to unhealthy no-op store", "error", err)
		return &history.NoopStore{Reason: "unhealthy: " + err.Error()}, false, nil
	}
	return store, false, nil
}

// buildProviders constructs every configured LLM provider (spec.md §4.5,
// §9 static-registry redesign). A provider whose construction fails (most
// commonly an empty API key) is logged and omitted rather than aborting
// startup — it simply becomes unavailable at dispatch time (spec.md §7
// "Provider unavailable").
func buildProviders(cfg *config.Config) map[string]llm.Provider {
	out := make(map[string]llm.Provider)
	for name, p := range cfg.LLMProviderRegistry.GetAll() {
		ctorCfg, err := providerConstructorConfig(p)
		if err != nil {
			slog.Warn("llm: skipping provider with unsupported type", "provider", name, "type", p.Type, "error", err)
			continue
		}
		provider, err := llm.New(p.Type, name, ctorCfg)
		if err != nil {
			slog.Warn("llm: provider unavailable", "provider", name, "error", err)
			continue
		}
		out[name] = provider
	}
	return out
}

func providerConstructorConfig(p *config.LLMProviderConfig) (any, error) {
	switch p.Type {
	case "anthropic":
		return llm.AnthropicConfig{
			Model:               p.Model,
			APIKey:              config.ResolveAPIKey(p),
			MaxToolResultTokens: p.MaxToolResultTokens,
		}, nil
	default:
		return nil, fmt.Errorf("no constructor config mapping for provider type %q", p.Type)
	}
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
