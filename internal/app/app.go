// Package app wires the hub's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/api"
	"github.com/phonehub/phonehub/internal/api/handlers"
	"github.com/phonehub/phonehub/internal/callstore"
	"github.com/phonehub/phonehub/internal/dialog"
	"github.com/phonehub/phonehub/internal/outbound"
	"github.com/phonehub/phonehub/internal/summary"
	"github.com/phonehub/phonehub/pkg/ai"
	"github.com/phonehub/phonehub/pkg/audit"
	"github.com/phonehub/phonehub/pkg/callctx"
	"github.com/phonehub/phonehub/pkg/client"
	"github.com/phonehub/phonehub/pkg/env"
	"github.com/phonehub/phonehub/pkg/mongo"
	"github.com/phonehub/phonehub/pkg/otel"
	"github.com/phonehub/phonehub/pkg/persona"
	"github.com/phonehub/phonehub/pkg/retry"
	"github.com/phonehub/phonehub/pkg/telephony"
	"github.com/phonehub/phonehub/pkg/voice"
)

// Version is reported to the tracer and by the CLI.
var Version = "dev"

// Core is everything that works without Redis or Mongo.
type Core struct {
	Registry  *persona.Registry
	Codec     *callctx.Codec
	Markup    *voice.Generator
	AI        *ai.Manager
	Engine    *dialog.Engine
	Telephony *telephony.Client
	Planner   *outbound.Planner
}

// NewCore builds the dialog engine and its collaborators.
func NewCore(cfg *env.Config, logger *zap.Logger) (*Core, error) {
	registry, err := persona.Load(cfg.PersonasFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}

	codec := callctx.NewCodec(registry.Default().ID, cfg.ContextTokenMaxBytes, cfg.HistoryWindow, logger)
	markup := voice.NewGenerator(voice.Options{
		BaseURL:         cfg.PublicBaseURL,
		Voice:           cfg.SayVoice,
		TransferNumber:  cfg.TransferNumber,
		TransferTimeout: cfg.TransferTimeoutSec,
		GatherTimeout:   cfg.GatherTimeoutSec,
		SpeechTimeout:   cfg.SpeechTimeoutSec,
	}, codec, logger)

	manager := ai.NewManager(Providers(cfg, logger), logger)
	engine := dialog.NewEngine(registry, codec, manager, markup, dialog.Config{
		GenerationTimeout: cfg.GenerationTimeout(),
		TurnBudget:        cfg.TurnBudget(),
		MaxTurns:          cfg.MaxTurns,
		TransferEnabled:   cfg.TransferNumber != "",
	}, logger)

	return &Core{
		Registry:  registry,
		Codec:     codec,
		Markup:    markup,
		AI:        manager,
		Engine:    engine,
		Telephony: telephony.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger),
		Planner:   outbound.NewPlanner(registry, manager, logger),
	}, nil
}

// Providers returns the configured generation providers in fallback order.
func Providers(cfg *env.Config, logger *zap.Logger) []ai.Provider {
	timeout := cfg.GenerationTimeout()
	candidates := []ai.Provider{
		ai.NewAnthropicProvider(cfg.AnthropicApiKey, cfg.AnthropicModel, cfg.AnthropicBaseURL, cfg.AnthropicMaxTokens, timeout, logger),
		ai.NewOpenAIProvider(cfg.OpenAIApiKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.OpenAIMaxTokens, timeout, logger),
		ai.NewGeminiProvider(cfg.GeminiApiKey, cfg.GeminiModel, cfg.GeminiMaxTokens, timeout, logger),
	}

	providers := make([]ai.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.IsAvailable() {
			providers = append(providers, p)
			logger.Info("Generation provider initialized", zap.String("provider", p.Name()))
		}
	}
	if len(providers) == 0 {
		logger.Warn("No generation providers configured - calls will hear the fallback line")
	}
	return providers
}

// App is the fully wired server.
type App struct {
	*Core
	Router *gin.Engine

	redis   redis.UniversalClient
	mongo   *mongo.Client
	tracing func(context.Context) error
	logger  *zap.Logger
}

// Build connects the optional stores and assembles the router. Stores that
// are configured but unreachable fail startup.
func Build(ctx context.Context, cfg *env.Config, logger *zap.Logger) (*App, error) {
	core, err := NewCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Core: core, logger: logger}

	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing(ctx, otel.Config{
			ServiceName:    "phonehub",
			ServiceVersion: Version,
			Environment:    cfg.AppEnv,
			Endpoint:       cfg.OTELEndpoint,
		})
		if err != nil {
			logger.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			a.tracing = shutdown
			logger.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	// Left as a nil interface when unset so middleware can tell.
	var cache redis.UniversalClient
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			a.Close(ctx)
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache = rdb
		a.redis = rdb
		logger.Info("Redis connection established")
	} else {
		logger.Info("Redis not configured - rate limiting and idempotency disabled")
	}

	var store callstore.Store
	var sink audit.Sink
	if cfg.MongoURI != "" {
		mc, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.DBName, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.mongo = mc
		store = callstore.NewMongoStore(mc)
		sink = audit.NewMongoSink(mc)
	} else {
		logger.Info("MongoDB not configured - call records disabled")
	}

	hooks := client.NewHTTPClient("summary-webhook", 10*time.Second).WithRetry(retry.Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2,
	})

	h := handlers.NewHandler(handlers.Deps{
		Config:   cfg,
		Redis:    cache,
		Mongo:    a.mongo,
		Store:    store,
		Registry: core.Registry,
		Engine:   core.Engine,
		Markup:   core.Markup,
		Outbound: outbound.NewService(core.Registry, core.Codec, core.Telephony, store, outbound.Options{
			BaseURL:     cfg.PublicBaseURL,
			RingTimeout: cfg.RingTimeoutSec,
		}, logger),
		Planner:   core.Planner,
		Forwarder: summary.NewForwarder(core.AI, hooks, cfg.SummaryWebhookToken, logger),
		Telephony: core.Telephony,
		AI:        core.AI,
		Webhooks:  hooks,
		Audit:     audit.NewTrail(sink, logger),
		Logger:    logger,
	})

	a.Router = api.NewRouter(cfg, h, cache, logger)
	return a, nil
}

// Close releases the stores and flushes traces.
func (a *App) Close(ctx context.Context) {
	if a.mongo != nil {
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
}

// Run serves the app on cfg.AppPort until ctx is done, then shuts down.
func Run(ctx context.Context, cfg *env.Config, logger *zap.Logger) error {
	a, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			zap.String("addr", srv.Addr),
			zap.String("public_url", cfg.PublicBaseURL),
			zap.Int("personas", len(a.Registry.All())),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	a.Close(shutdownCtx)
	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}
