// Package app wires the gateway's components together and owns their
// lifecycle.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"interview-realtime-gateway/internal/agents"
	"interview-realtime-gateway/internal/auth"
	"interview-realtime-gateway/internal/config"
	"interview-realtime-gateway/internal/directory"
	"interview-realtime-gateway/internal/events"
	"interview-realtime-gateway/internal/export"
	"interview-realtime-gateway/internal/gateway"
	"interview-realtime-gateway/internal/observability/logging"
	"interview-realtime-gateway/internal/provider"
	"interview-realtime-gateway/internal/store"
	"interview-realtime-gateway/internal/timer"
	"interview-realtime-gateway/internal/transcript"
)

// Application holds process-wide state for the gateway.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Gateway   *gateway.Server
	Workers   *events.WorkerPool
	Timer     *timer.Service
	CodeCache *gateway.CodeCache
	Exporter  *export.Exporter

	redis *store.Redis
	pg    *directory.PostgresDirectory
}

// New constructs the application from configuration. Redis and Postgres
// are optional: without them the gateway runs on in-process stores and a
// disabled directory, which is enough for local development but loses
// durability across restarts.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("app"),
	}

	var dir directory.Directory
	if cfg.DatabaseURL != "" {
		pg, err := directory.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("session directory: %w", err)
		}
		a.pg = pg
		dir = pg
	} else {
		a.Logger.Warn().Msg("DATABASE_URL not set, session directory disabled")
		dir = directory.NewDisabled()
	}

	var (
		replay   store.ReplayStore
		timers   store.TimerStore
		retries  store.RetryStore
		eventLog events.Log
	)
	if cfg.RedisURL != "" {
		rds, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rds
		replay = rds
		timers = store.NewFallbackTimerStore(rds)
		retries = rds
		eventLog = events.NewRedisLog(rds.Client())
	} else {
		a.Logger.Warn().Msg("REDIS_URL not set, using in-process stores")
		mem := store.NewMemory()
		replay, timers, retries = mem, mem, mem
		eventLog = events.NewMemoryLog()
	}

	a.Exporter = export.New(cfg.Kafka)
	transcripts := transcript.NewBuffer(dir, a.Exporter)
	publisher := events.NewPublisher(eventLog)

	a.Timer = timer.NewService(timers, dir, transcripts, publisher, cfg.SessionDuration)

	selector := provider.NewSelector(cfg.OpenAIAPIKey, cfg.GeminiAPIKey, dir, transcripts)

	agentClient := agents.NewClient(cfg.AgentsBaseURL, cfg.WebhookSecret)
	if !agentClient.Enabled() {
		a.Logger.Warn().Msg("APP_URL or INTERNAL_WEBHOOK_SECRET not set, agent calls disabled")
	}
	registry := agents.NewRegistry()
	observer := agents.NewObserver(agentClient, registry)

	a.Workers = events.NewWorkerPool(eventLog, retries)
	a.Workers.Register(events.GroupObserver, events.TypeCodeEdited, func(ctx context.Context, msg events.Message) error {
		var payload events.CodeEditPayload
		if err := json.Unmarshal(msg.Event.Payload, &payload); err != nil {
			return fmt.Errorf("decode code edit: %w", err)
		}
		return observer.ObserveAndInject(ctx, msg.Event.SessionID, payload.Code, payload.Language)
	})
	a.Workers.Register(events.GroupEvaluator, events.TypeSessionEnded, func(ctx context.Context, msg events.Message) error {
		_, err := agentClient.Evaluate(ctx, msg.Event.SessionID)
		return err
	})

	a.CodeCache = gateway.NewCodeCache(dir)
	a.Timer.OnEnd(func(sessionID string) {
		finCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.CodeCache.Finalize(finCtx, sessionID)
	})
	router := gateway.NewRouter(a.Timer, publisher, a.CodeCache)
	verifier := auth.NewVerifier(auth.Config{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		MaxAge:   cfg.TokenMaxAge,
	}, replay, dir)
	a.Gateway = gateway.NewServer(verifier, selector, a.Timer, router, registry)

	a.Logger.Info().
		Bool("postgres", a.pg != nil).
		Bool("redis", a.redis != nil).
		Bool("openai", cfg.OpenAIAPIKey != "").
		Bool("gemini", cfg.GeminiAPIKey != "").
		Msg("Interview realtime gateway application created")
	return a, nil
}

// Start launches the background loops: event workers, the timer
// broadcast loop and the code persistence loop.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()

	if err := a.Workers.Start(ctx); err != nil {
		return fmt.Errorf("event workers: %w", err)
	}
	a.Timer.Start(ctx)
	a.CodeCache.Start(ctx)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Interview realtime gateway starting")
	return nil
}

// Shutdown stops background loops and releases external connections.
// Loops stop first so nothing writes through a closed client.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Interview realtime gateway shutting down")

	a.Workers.Stop()
	a.Timer.Stop()
	a.CodeCache.Stop()

	if err := a.Exporter.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close transcript exporter")
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
