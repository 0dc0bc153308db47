// Command crawlhub runs the crawling platform's control API: job
// registry, crawl runtimes, and search engine behind one HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crawlhub/internal/api"
	"crawlhub/internal/config"
	"crawlhub/internal/logging"
	"crawlhub/internal/metrics"
	"crawlhub/internal/registry"
	"crawlhub/internal/search"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	m := metrics.New()

	reg, err := registry.Open(cfg.DataDir, m, logger)
	if err != nil {
		logger.Fatal("open registry", zap.Error(err))
	}

	engine := search.New(reg.Index())

	srv := api.NewServer(reg, engine, m, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
