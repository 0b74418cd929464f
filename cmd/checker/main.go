package main

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	apihttp "github.com/upwatch/upwatch/internal/api/http"
	"github.com/upwatch/upwatch/internal/checker"
	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/lib/logger"
	"github.com/upwatch/upwatch/internal/probe"
	"github.com/upwatch/upwatch/internal/repository"
	"github.com/upwatch/upwatch/internal/stream"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.Setup(cfg.Env)

	consumer := config.ConsumerName(cfg.Checker.Consumer, "checker")

	slogger.Info("starting checker",
		"env", cfg.Env,
		"consumer", consumer,
		"region", cfg.Region.ID,
	)

	streamClient := stream.NewClient(stream.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer streamClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := streamClient.Ping(ctx); err != nil {
		slogger.Error("redis is unreachable", "error", err)
		os.Exit(1)
	}

	checkQueue := repository.NewStreamCheckQueue(
		streamClient, cfg.Redis.Streams.Checks, cfg.Checker.Group, consumer, slogger,
	)
	resultPublisher := repository.NewStreamResultPublisher(streamClient, cfg.Redis.Streams.Status)

	prober := probe.New(probe.Config{
		Timeout:    cfg.GetProbeTimeout(),
		Retries:    cfg.Checker.Retries,
		RetryDelay: cfg.GetRetryDelay(),
	})

	service := checker.New(checkQueue, resultPublisher, prober, checker.Config{
		RegionID:      cfg.Region.ID,
		BatchSize:     cfg.Checker.BatchSize,
		PollInterval:  cfg.GetCheckerPollInterval(),
		ClaimEvery:    cfg.Checker.ClaimEvery,
		ClaimMinIdle:  cfg.GetClaimMinIdle(),
		MaxDeliveries: cfg.Checker.MaxDeliveries,
	}, slogger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			slogger.Error("checker service failed", "error", err)
			cancel()
		}
	}()

	healthController := apihttp.NewHealthController(service, consumer)
	httpServer := &nethttp.Server{
		Addr:    ":" + cfg.Server.HealthPort,
		Handler: apihttp.NewRouter(healthController),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slogger.Info("starting health server", "port", cfg.Server.HealthPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			slogger.Error("health server failed", "error", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}

	slogger.Info("shutting down checker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("health server shutdown failed", "error", err)
	}

	wg.Wait()
	slogger.Info("checker stopped gracefully")
}
