package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/config"
	"github.com/gosuda/glassbox/internal/crypto"
	"github.com/gosuda/glassbox/internal/domain"
	"github.com/gosuda/glassbox/internal/engine"
	"github.com/gosuda/glassbox/internal/pricing"
	"github.com/gosuda/glassbox/internal/provider"
	"github.com/gosuda/glassbox/internal/server"
	"github.com/gosuda/glassbox/internal/store/postgres"
	redisstore "github.com/gosuda/glassbox/internal/store/redis"
	"github.com/gosuda/glassbox/internal/tool"
	"github.com/gosuda/glassbox/internal/trace"
	"github.com/gosuda/glassbox/internal/trust"
)

const defaultProfileSlug = "calculator"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("GLASSBOX_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("GLASSBOX_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// At-rest codec for trace payloads.
	codec, err := crypto.NewCodec(cfg.Security.EncryptionKeyBytes())
	if err != nil {
		return err
	}

	// Connect to PostgreSQL.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), codec) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Connect to Redis.
	pubsub, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	// Seed the default agent profile. Create is idempotent on slug.
	if err := seedDefaultProfile(ctx, store.AgentProfiles(), cfg.Agent.Model); err != nil {
		return fmt.Errorf("seed profile: %w", err)
	}

	// Tool registry with the built-in tools.
	tools := tool.NewRegistry()
	tools.Register(tool.NewCalculator())

	// Create the execution engine.
	recorder := trace.NewRecorder(store.Traces(), store.TraceSteps(), hostname())
	model := provider.NewGeminiClient(cfg.Agent.GeminiAPIKey, cfg.Agent.CallTimeout)
	eng := engine.New(
		store.Sessions(),
		store.AgentProfiles(),
		recorder,
		model,
		tools,
		pricing.DefaultTable(),
		pubsub,
		engine.Config{
			Model:         cfg.Agent.Model,
			MaxIterations: cfg.Agent.MaxIterations,
			HistoryTurns:  cfg.Agent.HistoryTurns,
		},
	)

	// Create the trust service guarding client routes.
	trustSvc := trust.NewService(
		store.Clients(),
		trust.NewEventLog(store.SecurityEvents()),
		trust.NewRateLimiter(cfg.Trust.RateLimitRPM, cfg.Trust.RateLimitRPH),
		trust.Config{
			RateLimitEnabled:     cfg.Trust.RateLimitEnabled,
			RateLimitRPM:         cfg.Trust.RateLimitRPM,
			RateLimitRPH:         cfg.Trust.RateLimitRPH,
			FingerprintThreshold: cfg.Trust.FingerprintThreshold,
			FingerprintStrict:    cfg.Trust.FingerprintStrict,
		},
	)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, store, pubsub, trustSvc, eng)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func seedDefaultProfile(ctx context.Context, profiles domain.AgentProfileRepository, model string) error {
	now := time.Now().UTC()
	return profiles.Create(ctx, &domain.AgentProfile{
		ID:          uuid.New(),
		Name:        "Calculator Agent",
		Slug:        defaultProfileSlug,
		Description: "Answers questions by evaluating arithmetic with the calculator tool.",
		SystemPrompt: "You are a helpful assistant with access to a calculator tool. " +
			"When the user asks a question involving arithmetic, call the calculator tool " +
			"with the expression and base your answer on its result. Answer concisely.",
		ModelConfig: map[string]any{"model": model},
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
