package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/portfoliofeed/internal/config"
	"github.com/efreitasn/portfoliofeed/internal/engine"
	"github.com/efreitasn/portfoliofeed/internal/handler"
	"github.com/efreitasn/portfoliofeed/internal/service"
	"github.com/efreitasn/portfoliofeed/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// -healthcheck: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		if !healthy(fmt.Sprintf("http://localhost:%s/healthz", port)) {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	registry := engine.NewRegistry(engine.WithLogger(logger))
	subscriptions := store.NewSubscriptionStore()

	publisherSvc := service.NewPublisherService(subscriptions, registry, cfg.WebhookTimeout, logger)
	portfolioSvc := service.NewPortfolioService(registry, cfg.StatusTimeout, logger)

	if err := publisherSvc.Serve(cfg.PortfolioNum); err != nil {
		logger.Error("failed to attach publisher", slog.String("error", err.Error()))
		os.Exit(1)
	}

	router := handler.NewRouter(portfolioSvc, publisherSvc, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Stop taking requests first, then let every portfolio and then every
	// publisher relay drain its pending deliveries.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.Error("registry close error", slog.String("error", err.Error()))
	}
	if err := publisherSvc.Close(shutdownCtx); err != nil {
		logger.Error("publisher close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// healthy reports whether url answers 200.
func healthy(url string) bool {
	resp, err := http.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
