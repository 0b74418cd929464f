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

	"github.com/upwatch/upwatch/internal/analyzer"
	"github.com/upwatch/upwatch/internal/analyzer/llm"
	apihttp "github.com/upwatch/upwatch/internal/api/http"
	"github.com/upwatch/upwatch/internal/config"
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

	consumer := config.ConsumerName(cfg.Analyzer.Consumer, "analyzer")

	slogger.Info("starting analyzer",
		"env", cfg.Env,
		"consumer", consumer,
		"group", cfg.Analyzer.Group,
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

	var completions analyzer.CompletionClient
	if cfg.Analyzer.OpenAI.APIKey != "" {
		client, err := llm.NewClient(llm.Config{
			BaseURL: cfg.Analyzer.OpenAI.BaseURL,
			APIKey:  cfg.Analyzer.OpenAI.APIKey,
			Model:   cfg.Analyzer.OpenAI.Model,
			Timeout: cfg.GetOpenAITimeout(),
		})
		if err != nil {
			slogger.Error("failed to build llm client", "error", err)
			os.Exit(1)
		}
		completions = client
	} else {
		slogger.Warn("no OpenAI API key configured, analyses will use the rule-based fallback only")
	}

	engine := analyzer.NewEngine(completions, slogger)

	resultQueue := repository.NewStreamResultQueue(
		streamClient, cfg.Redis.Streams.Status, cfg.Analyzer.Group, consumer, slogger,
	)

	svc := analyzer.New(resultQueue, store, engine, analyzer.Config{
		BatchSize:    cfg.Analyzer.BatchSize,
		PollInterval: cfg.GetAnalyzerPollInterval(),
		HistoryLimit: cfg.Analyzer.HistoryLimit,
	}, slogger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := svc.Run(ctx); err != nil {
			slogger.Error("analyzer failed", "error", err)
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

	slogger.Info("shutting down analyzer...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slogger.Error("health server shutdown failed", "error", err)
	}

	wg.Wait()
	slogger.Info("analyzer stopped gracefully")
}
