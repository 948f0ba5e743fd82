package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stayware/cohost-platform/cmd/mainconfig"
	"github.com/stayware/cohost-platform/internal/api/router"
	"github.com/stayware/cohost-platform/internal/app/bootstrap"
	appconfig "github.com/stayware/cohost-platform/internal/config"
	"github.com/stayware/cohost-platform/internal/http/handlers"
	"github.com/stayware/cohost-platform/internal/ingest"
	"github.com/stayware/cohost-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting cohost-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.BuildConversationRuntime(context.Background(), cfg, awsCfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		logger.Error("failed to build conversation runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	ingestSvc := ingest.NewService(
		ingest.NewDeduper(rt.Redis, cfg.EventDedupeWindow),
		rt.Publisher,
		logger,
	)

	r := router.New(&router.Config{
		Logger:           logger,
		Webhooks:         handlers.NewWebhookHandler(ingestSvc, rt.Publisher, rt.PropertyStore, logger),
		Ops:              handlers.NewOpsHandler(rt.ConversationStore, rt.Publisher, logger),
		AdminProperties:  handlers.NewAdminPropertiesHandler(rt.PropertyStore, logger),
		MetricsHandler:   promhttp.Handler(),
		WebhookRateLimit: cfg.WebhookRateLimit,
		WebhookBurst:     cfg.WebhookRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.UseMemoryQueue {
		// Single-process mode: the queue only exists in this process, so the
		// worker must run here too.
		rt.Worker.Start(workerCtx)
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	stopWorker()
	if cfg.UseMemoryQueue {
		rt.Worker.Wait()
	}
	logger.Info("server stopped")
}
