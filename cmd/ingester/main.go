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
	"github.com/upwatch/upwatch/internal/config"
	"github.com/upwatch/upwatch/internal/ingest"
	"github.com/upwatch/upwatch/internal/lib/logger"
	"github.com/upwatch/upwatch/internal/repository"
	"github.com/upwatch/upwatch/internal/storage"
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

	consumer := config.ConsumerName(cfg.Ingest.Consumer, "ingester")

	slogger.Info("starting ingester",
		"env", cfg.Env,
		"consumer", consumer,
		"group", cfg.Ingest.Group,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamClient := stream.NewClient(stream.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer streamClient.Close()

	if err := streamClient.Ping(ctx); err != nil {
		slogger.Error("redis is unreachable", "error", err)
		os.Exit(1)
	}

	store, err := storage.Connect(ctx, storage.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		Database:        cfg.Postgres.Database,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.MaxConns,
		MinConns:        cfg.Postgres.MinConns,
		ConnMaxLifetime: cfg.GetConnMaxLifetime(),
	})
	if err != nil {
		slogger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		slogger.Error("failed to init schema", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureRegion(ctx, cfg.Region.ID, cfg.Region.Name); err != nil {
		slogger.Error("failed to ensure region", "error", err)
		os.Exit(1)
	}

	resultQueue := repository.NewStreamResultQueue(
		streamClient, cfg.Redis.Streams.Status, cfg.Ingest.Group, consumer, slogger,
	)

	svc := ingest.New(resultQueue, store, ingest.Config{
		BatchSize:    cfg.Ingest.BatchSize,
		PollInterval: cfg.GetIngestPollInterval(),
	}, slogger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Run(ctx); err != nil {
			slogger.Error("ingest consumer failed", "error", err)
			cancel()
		}
	}()

	healthController := apihttp.NewHealthController(svc, consumer)
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

	slogger.Info("shutting down ingester...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("health server shutdown failed", "error", err)
	}

	wg.Wait()
	slogger.Info("ingester stopped gracefully")
}
