package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"brokenLinkAnalyzerGO/internal/api"
	"brokenLinkAnalyzerGO/internal/config"
	"brokenLinkAnalyzerGO/internal/crawler"
	"brokenLinkAnalyzerGO/internal/repository"
	"brokenLinkAnalyzerGO/internal/service"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	// Create config
	cfg, err := config.New()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("Failed to create config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)
	if envErr != nil {
		logger.Info("No .env file found, using environment variables")
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open analysis store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(context.Background()); err != nil {
			logger.Error("Failed to close analysis store", "error", err)
		}
	}()

	svc := service.NewBrokenLinkService(repo, newCrawler(cfg, logger), logger)

	if _, err := svc.RecoverOrphans(ctx); err != nil {
		logger.Error("Failed to recover unfinished analyses", "error", err)
	}
	go svc.RunReaper(ctx, cfg.Jobs.ReaperInterval, cfg.Jobs.Retention)

	// Initialize and start the API server
	server := api.NewServer(cfg, svc, logger)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to start", "error", err)
			shutdown <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started",
		"port", cfg.Server.Port,
		"env", cfg.Env,
		"store", cfg.Store.Backend,
		"crawler", cfg.Crawler.Mode,
	)

	// Wait for shutdown signal
	<-shutdown
	logger.Info("Shutting down server...")
	cancel()

	// Create a timeout context for graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Running analyses did not stop in time", "error", err)
	}

	logger.Info("Server exited properly")
}

// openRepository opens the analysis store selected by STORE_BACKEND
func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		return repository.NewMongoRepository(ctx, cfg.MongoDB)
	case config.BackendBadger:
		db, err := repository.OpenBadger(cfg.Store.BadgerPath)
		if err != nil {
			return nil, err
		}
		return repository.NewBadgerRepository(db), nil
	case config.BackendMemory:
		return repository.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newCrawler(cfg *config.Config, logger *slog.Logger) crawler.Crawler {
	if cfg.Crawler.Mode == config.CrawlerHTTP {
		return crawler.NewHTTPCrawler(cfg.Crawler, cfg.IsProduction(), logger)
	}
	return crawler.NewSimulator(cfg.Crawler.TickInterval, logger)
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			slog.New(slog.NewTextHandler(os.Stderr, nil)).Error(
				"Failed to create log directory", "path", logDir, "error", err,
			)
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("service", "broken-links")}))
	slog.SetDefault(logger)
	return logger
}
