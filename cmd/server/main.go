package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fable-server/internal/config"
	"fable-server/internal/generation"
	"fable-server/internal/handler"
	"fable-server/internal/logger"
	"fable-server/internal/notify"
	"fable-server/internal/prompt"
	"fable-server/internal/repository"
	"fable-server/internal/service"
	"fable-server/internal/storage"
	"fable-server/internal/worldclock"
	"fable-server/migrations"
	"fable-server/pkg/database"
	"fable-server/pkg/migration"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(database.Config{DSN: cfg.GetDSN(), MaxConns: cfg.DBMaxConns}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, db.Pool, log)
	if err := migrator.Up(); err != nil {
		return err
	}

	guard, redisClient, err := buildGuard(ctx, cfg, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	hub := notify.NewHub(log)

	var publisher *notify.RabbitPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err = notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.SceneUpdatesQueue, log)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer publisher.Close()
	} else {
		log.Info("RabbitMQ URL not set, scene updates go to websocket clients only")
	}
	notifier := notify.NewSceneNotifier(hub, publisher, log)

	narrativeClient, err := generation.NewNarrativeClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize narrative client: %w", err)
	}
	imageClient := generation.NewImageClient(cfg, log)
	speechClient := generation.NewSpeechClient(cfg, log)

	assetStore, err := storage.NewFileStore(cfg.AssetSavePath, cfg.AssetPublicBaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to initialize asset store: %w", err)
	}

	storyRepo := repository.NewPgStoryRepository(db, log)
	sceneRepo := repository.NewPgSceneRepository(db, log)

	orchestrator := generation.NewOrchestrator(
		narrativeClient,
		imageClient,
		speechClient,
		sceneRepo,
		assetStore,
		guard,
		notifier,
		generation.OrchestratorOptions{
			MaxAssetAttempts:     cfg.MaxAssetAttempts,
			NarrativeWaitTimeout: cfg.NarrativeWaitTimeout,
			NarrativeWaitPoll:    cfg.NarrativeWaitPoll,
		},
		log,
	)

	turnService := service.NewTurnService(
		storyRepo,
		sceneRepo,
		orchestrator,
		prompt.NewBuilder(),
		worldclock.NewClock(),
		log,
	)

	h := handler.NewHandler(turnService, assetStore, hub, log)
	router := handler.NewRouter(h, log)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	hub.Close()
	log.Info("Server stopped gracefully")
	return nil
}

// buildGuard picks the distributed guard when Redis is configured and falls
// back to the in-process one otherwise.
func buildGuard(ctx context.Context, cfg *config.Config, log *zap.Logger) (generation.AssetGuard, *redis.Client, error) {
	if cfg.RedisAddr == "" {
		log.Info("Redis address not set, using in-process generation guard")
		return generation.NewMemoryGuard(cfg.GuardTTL), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
	return generation.NewRedisGuard(client, cfg.GuardTTL, log), client, nil
}
