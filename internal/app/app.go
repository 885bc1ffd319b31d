package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lukasbauer/callguard/internal/conversation"
	"github.com/lukasbauer/callguard/internal/eventlog"
	"github.com/lukasbauer/callguard/internal/httpapi"
	"github.com/lukasbauer/callguard/internal/jobs"
	"github.com/lukasbauer/callguard/internal/lang"
	"github.com/lukasbauer/callguard/internal/llm"
	"github.com/lukasbauer/callguard/internal/notifications"
	"github.com/lukasbauer/callguard/internal/observability"
	"github.com/lukasbauer/callguard/internal/reply"
	"github.com/lukasbauer/callguard/internal/screening"
	"github.com/lukasbauer/callguard/internal/spam"
)

// eventFlushTimeout bounds how long Close waits for queued event writes.
const eventFlushTimeout = 5 * time.Second

type App struct {
	cfg      Config
	logger   *log.Logger
	db       *pgxpool.Pool
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    *conversation.MemoryStore
	eventLog *eventlog.Logger
	feed     *httpapi.Feed
	calls    *httpapi.CallRegistry
	screener *screening.Orchestrator
	janitor  *jobs.SessionJanitor
}

// New wires the screening service. The database is optional; without
// DATABASE_URL call events are not persisted.
func New(cfg Config, logger *log.Logger) (*App, error) {
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		db = pool
	}

	el := eventlog.New(db)
	if err := el.EnsureSchema(context.Background()); err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	if !el.Enabled() {
		logger.Printf("app: DATABASE_URL not set, call events are not persisted")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	client := llm.Instrument(llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.InferenceTimeout,
	}), metrics.ObserveInference)
	if cfg.OpenAIAPIKey == "" {
		logger.Printf("app: OPENAI_API_KEY not set, every inference falls back")
	}

	store := conversation.NewMemoryStore(cfg.SessionIdleTTL)
	feed := httpapi.NewFeed(logger)

	screener := screening.New(screening.Config{
		DefaultLanguage: cfg.DefaultLanguage,
		ListenTimeout:   cfg.ListenTimeout,
		TurnBudget:      cfg.TurnBudget,
	}, screening.Deps{
		Store:      store,
		Identifier: lang.NewIdentifier(client, cfg.DefaultLanguage, logger),
		Classifier: spam.NewClassifier(client, logger),
		Replies:    reply.NewGenerator(client, logger),
		Logger:     logger,
		Events:     el,
		Notifier:   notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		Feed:       feed,
		Metrics:    metrics,
	})

	return &App{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		registry: reg,
		metrics:  metrics,
		store:    store,
		eventLog: el,
		feed:     feed,
		calls:    httpapi.NewCallRegistry(),
		screener: screener,
		janitor:  jobs.NewSessionJanitor(store, metrics, logger, cfg.SessionSweepInterval),
	}, nil
}

func (a *App) Router() http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		PublicBaseURL:     a.cfg.PublicBaseURL,
		OperatorJWTSecret: a.cfg.OperatorJWTSecret,
	}, a.logger, httpapi.Deps{
		Screener:       a.screener,
		Calls:          a.calls,
		Feed:           a.feed,
		Metrics:        a.metrics,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
	})
}

// Calls is the in-flight webhook registry used for graceful draining.
func (a *App) Calls() *httpapi.CallRegistry { return a.calls }

// Screener exposes the orchestrator for offline use.
func (a *App) Screener() *screening.Orchestrator { return a.screener }

// Start launches background jobs.
func (a *App) Start() {
	a.janitor.Start()
}

// Close stops background jobs, disconnects feed subscribers and releases the
// database. Call it after the HTTP server has drained.
func (a *App) Close() error {
	a.janitor.Stop()
	a.feed.Close()

	ctx, cancel := context.WithTimeout(context.Background(), eventFlushTimeout)
	defer cancel()
	err := a.eventLog.Flush(ctx)
	if err != nil {
		a.logger.Printf("app: %v, closing database anyway", err)
	}

	if a.db != nil {
		a.db.Close()
	}
	return err
}
