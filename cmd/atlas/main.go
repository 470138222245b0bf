package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/microknowledge/atlas/internal/config"
	"github.com/microknowledge/atlas/internal/mcp"
	"github.com/microknowledge/atlas/internal/server"
	"github.com/microknowledge/atlas/internal/service/embedding"
	"github.com/microknowledge/atlas/internal/service/oracle"
	"github.com/microknowledge/atlas/internal/service/topiclayer"
	"github.com/microknowledge/atlas/internal/storage"
	"github.com/microknowledge/atlas/internal/telemetry"
	"github.com/microknowledge/atlas/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ATLAS_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("atlas starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply embedded migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Embedding provider and classifier oracle. Without an API key both
	// degrade to local stand-ins so the server still starts.
	var embedder embedding.Provider
	var oracleClient oracle.Client
	if cfg.OpenAIAPIKey != "" {
		logger.Info("oracle: openai", "llm_model", cfg.LLMModel, "embed_model", cfg.EmbedModel, "dimensions", cfg.EmbeddingDim)
		embedder = embedding.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbeddingDim)
		oracleClient = oracle.NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.LLMModel)
	} else {
		logger.Warn("oracle: no OPENAI_API_KEY, using noop embeddings and static classification")
		embedder = embedding.NewNoopProvider(cfg.EmbeddingDim)
		oracleClient = oracle.StaticClient{}
	}

	svc := topiclayer.New(db, embedder, oracleClient, cfg, logger)

	mcpSrv := mcp.New(svc, logger)

	srv := server.New(server.ServerConfig{
		DB:           db,
		Service:      svc,
		Logger:       logger,
		MCPServer:    mcpSrv.MCPServer(),
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
		DefaultTopK:  cfg.TopicNeighborTopK,
	})

	// Scheduled rebalancing. The manual POST /jobs/recluster trigger works
	// regardless; the ticker is opt-in.
	if cfg.ReclusterInterval > 0 {
		go reclusterLoop(ctx, svc, logger, cfg.ReclusterInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("atlas shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("atlas stopped")
	return nil
}

// reclusterLoop triggers the rebalance job on a fixed interval until ctx
// is cancelled.
func reclusterLoop(ctx context.Context, svc *topiclayer.Service, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := svc.Recluster(ctx)
			if err != nil {
				logger.Error("scheduled recluster failed", "error", err)
				continue
			}
			if result.TopicsRefreshed > 0 {
				logger.Info("scheduled recluster complete", "topics_refreshed", result.TopicsRefreshed)
			}
		}
	}
}
