package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/oneclickreelsai/studious-system/internal/core"
	"github.com/oneclickreelsai/studious-system/internal/dispatch"
	"github.com/oneclickreelsai/studious-system/internal/enrich"
	"github.com/oneclickreelsai/studious-system/internal/platform"
	"github.com/oneclickreelsai/studious-system/internal/server/api"
	"github.com/oneclickreelsai/studious-system/internal/server/config"
	"github.com/oneclickreelsai/studious-system/internal/server/database"
	"github.com/oneclickreelsai/studious-system/internal/server/service"
	"github.com/oneclickreelsai/studious-system/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Local overrides; absence is fine in production
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_upload_size", cfg.MaxUploadSize,
		"item_timeout", cfg.ItemTimeout,
	)

	dests, err := config.LoadDestinations(cfg.DestinationsFile)
	if err != nil {
		slog.Error("failed to load destinations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store, err := buildStore(cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if err := store.Ensure(ctx); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("media storage initialized", "backend", cfg.StorageBackend)

	// Wire the pipeline
	queue := core.NewQueue()
	repo := database.NewRepository(db)
	svc := service.NewBatchService(queue, store, repo, cfg)

	registry, limits := buildDestinations(dests)
	slog.Info("destinations registered", "names", registry.Names())

	dispatcher := dispatch.New(queue, registry, svc, dispatch.NewLimiter(limits), cfg.ItemTimeout)
	enricher := enrich.NewEnricher(queue, enrich.NewClient(enrich.ClientConfig{
		BaseURL: cfg.SynthBaseURL,
		APIKey:  cfg.SynthAPIKey,
		Model:   cfg.SynthModel,
		Timeout: cfg.SynthTimeout,
	}))
	svc.Bind(dispatcher, enricher)

	// Start cleanup service
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	cleanup := storage.NewCleanupService(store, svc.ReferencedKeys, cfg.RetentionAge, cfg.CleanupInterval)
	cleanup.Start(cleanupCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, db)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Ask a live run to stop and wait for it to settle
	if dispatcher.Cancel() {
		if run, ok := dispatcher.Current(); ok {
			select {
			case <-run.Done():
			case <-shutdownCtx.Done():
				slog.Error("dispatch run did not stop in time")
			}
		}
	}

	// Stop cleanup service
	cleanupCancel()
	cleanup.Wait()

	slog.Info("server exited cleanly")
}

// buildStore selects the storage backend from config.
func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	case "local", "":
		return storage.NewFileSystemStore(cfg.StoragePath), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// buildDestinations registers every enabled platform and collects its
// throttling limits. Credentials come from the environment; the YAML file
// carries identifiers and limits only.
func buildDestinations(dests config.Destinations) (*platform.Registry, map[string]dispatch.Limit) {
	registry := platform.NewRegistry()
	limits := make(map[string]dispatch.Limit)

	for name, dc := range dests {
		if !dc.Enabled {
			continue
		}
		switch name {
		case platform.NameYouTube:
			registry.Register(platform.NewYouTube(platform.YouTubeConfig{
				ClientID:          os.Getenv("YT_CLIENT_ID"),
				ClientSecret:      os.Getenv("YT_CLIENT_SECRET"),
				RefreshToken:      os.Getenv("YT_REFRESH_TOKEN"),
				CategoryID:        dc.CategoryID,
				DefaultLanguage:   dc.DefaultLanguage,
				NotifySubscribers: dc.NotifySubscribers,
			}))
		case platform.NameFacebook:
			registry.Register(platform.NewFacebook(platform.FacebookConfig{
				PageID:      dc.PageID,
				AccessToken: os.Getenv("FB_ACCESS_TOKEN"),
				GraphURL:    dc.GraphURL,
			}))
		case platform.NameInstagram:
			registry.Register(platform.NewInstagram(platform.InstagramConfig{
				UserID:      dc.UserID,
				AccessToken: os.Getenv("IG_ACCESS_TOKEN"),
				GraphURL:    dc.GraphURL,
			}))
		default:
			slog.Warn("ignoring unknown destination in config", "name", name)
			continue
		}
		limits[name] = dispatch.Limit{RPS: dc.RPS, Burst: dc.Burst}
	}

	return registry, limits
}
