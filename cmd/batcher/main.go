package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/kling-batcher/internal/browser"
	"github.com/koios/kling-batcher/internal/config"
	"github.com/koios/kling-batcher/internal/engine"
	"github.com/koios/kling-batcher/internal/handlers"
	"github.com/koios/kling-batcher/internal/redis"
	"github.com/koios/kling-batcher/internal/remote"
	"github.com/koios/kling-batcher/internal/session"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := session.Open(cfg)
	if err != nil {
		logger.Fatal("Failed to open session store", zap.Error(err))
	}
	defer closeStore()

	var (
		callbacks engine.Callbacks
		client    *redis.Client
	)
	if cfg.Redis.Enabled {
		client, err = redis.NewClient(cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		callbacks.OnLog, callbacks.OnProgress = client.Callbacks()
	}

	eng := engine.New(engineOptions(cfg), newOpener(cfg, logger), store, logger, callbacks)
	worker := engine.NewWorker(eng, logger, cfg.Batch.AutoStart)
	worker.Start(ctx)

	// Create HTTP server for the control API
	mux := http.NewServeMux()
	controlHandler := handlers.NewControlHandler(worker, store, logger)
	controlHandler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	var consumer *redis.Consumer
	if client != nil {
		consumer = redis.NewConsumer(client, handlers.NewCommandHandler(worker, logger), logger)
		go func() {
			if err := consumer.Start(); err != nil {
				logger.Error("Redis consumer failed", zap.Error(err))
			}
		}()
	}

	logger.Info("Batcher started",
		zap.Int("port", cfg.Server.Port),
		zap.String("root_folder", cfg.Batch.RootFolder),
		zap.String("driver", cfg.Browser.Driver),
		zap.Bool("redis", cfg.Redis.Enabled))

	// Wait for interrupt signal, a fatal server error, or the worker exiting
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	case <-worker.Done():
		if err := worker.Err(); err != nil {
			logger.Error("Batch worker exited", zap.Error(err))
		}
		logger.Info("Batch worker finished, control API stays up until interrupted")
		select {
		case <-quit:
		case <-ctx.Done():
		}
	}

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if consumer != nil {
		consumer.Stop()
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// The worker finishes its current step and closes the browser
	if err := worker.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown timeout exceeded", zap.Error(err))
	}

	cancel()
	logger.Info("Shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newOpener(cfg *config.Config, logger *zap.Logger) remote.Opener {
	if cfg.Browser.Driver == config.DriverSim {
		logger.Warn("Using simulated render service")
		return remote.NewSimulator(remote.WithRenderTime(cfg.Browser.SimRenderTime)).Opener()
	}
	return browser.NewOpener(browser.Options{
		BaseURL:         cfg.Browser.BaseURL,
		DownloadTimeout: cfg.Browser.DownloadTimeout,
	}, logger)
}

func engineOptions(cfg *config.Config) engine.Options {
	b := cfg.Batch
	opts := engine.DefaultOptions(b.RootFolder)
	opts.SelectedFolders = b.SelectedFolders
	opts.Headless = cfg.Browser.Headless
	opts.MaxConcurrent = b.MaxConcurrent
	opts.PollInterval = b.PollInterval
	opts.SettleDelay = b.SettleDelay
	opts.SubmitSettle = b.SubmitSettle
	opts.StaleAfter = b.StaleAfter
	opts.FolderTimeout = b.FolderTimeout
	opts.ActiveScanLimit = b.ActiveScanLimit
	if b.OutputExt != "" {
		opts.OutputExt = b.OutputExt
	}
	return opts
}
