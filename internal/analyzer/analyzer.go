// Package analyzer consumes the status stream through its own consumer
// group, enriches failing ticks with a root-cause analysis and persists
// the analysis linked to the tick.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/repository"
	"github.com/upwatch/upwatch/internal/storage"
)

// Store is the slice of the durable store the analyzer needs.
type Store interface {
	FindWebsite(ctx context.Context, id string) (*domain.Website, error)
	ListRecentTicks(ctx context.Context, websiteID string, limit int) ([]domain.Tick, error)
	UpsertEnrichedTick(ctx context.Context, tick domain.Tick) (string, error)
	InsertAnalysis(ctx context.Context, analysis domain.Analysis) error
}

// AnalysisEngine produces a complete analysis for a failing result. It
// never fails; model errors resolve to the deterministic fallback inside.
type AnalysisEngine interface {
	Analyze(ctx context.Context, website domain.Website, result domain.CheckResult, history []domain.Tick) domain.Analysis
}

type Config struct {
	BatchSize    int64
	PollInterval time.Duration
	HistoryLimit int
}

type Analyzer struct {
	results   repository.ResultQueue
	store     Store
	engine    AnalysisEngine
	cfg       Config
	log       *slog.Logger
	isRunning atomic.Bool
}

func New(results repository.ResultQueue, store Store, engine AnalysisEngine, cfg Config, log *slog.Logger) *Analyzer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Analyzer{
		results: results,
		store:   store,
		engine:  engine,
		cfg:     cfg,
		log:     log,
	}
}

func (a *Analyzer) Run(ctx context.Context) error {
	if err := a.results.Setup(ctx); err != nil {
		return fmt.Errorf("setup result group: %w", err)
	}

	a.isRunning.Store(true)
	defer a.isRunning.Store(false)

	a.log.Info("failure analyzer started",
		"batch_size", a.cfg.BatchSize,
		"poll_interval", a.cfg.PollInterval,
	)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Poll(ctx); err != nil {
				a.log.Error("poll failed", "error", err)
			}
		case <-ctx.Done():
			a.log.Info("failure analyzer stopped")
			return nil
		}
	}
}

// Poll processes each delivered result independently: a failed one is left
// unacked for redelivery without blocking the rest of the batch.
func (a *Analyzer) Poll(ctx context.Context) error {
	pending, err := a.results.Fetch(ctx, a.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}

	for _, p := range pending {
		if err := a.process(ctx, p.Result); err != nil {
			a.log.Error("analysis failed, leaving entry for redelivery",
				"entry_id", p.EntryID,
				"website_id", p.Result.WebsiteID,
				"error", err,
			)
			continue
		}
		if err := a.results.Ack(ctx, p.EntryID); err != nil {
			a.log.Error("failed to ack analyzed result", "entry_id", p.EntryID, "error", err)
		}
	}
	return nil
}

// process runs the per-result state machine. A nil return means the entry
// may be acknowledged; an error means it must stay pending.
func (a *Analyzer) process(ctx context.Context, result domain.CheckResult) error {
	// Healthy results need no analysis.
	if result.Status == domain.StatusUp {
		return nil
	}

	website, err := a.store.FindWebsite(ctx, result.WebsiteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The reference is permanently invalid; retrying cannot fix it.
			a.log.Warn("website not found, dropping result", "website_id", result.WebsiteID)
			return nil
		}
		return fmt.Errorf("find website: %w", err)
	}

	history, err := a.store.ListRecentTicks(ctx, website.ID, a.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("list recent ticks: %w", err)
	}

	tickID, err := a.store.UpsertEnrichedTick(ctx, domain.TickFromResult(result))
	if err != nil {
		return fmt.Errorf("upsert tick: %w", err)
	}

	analysis := a.engine.Analyze(ctx, *website, result, history)
	analysis.TickID = tickID
	analysis.AnalyzedAt = time.Now().UTC()

	if err := a.store.InsertAnalysis(ctx, analysis); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	a.log.Info("analysis persisted",
		"website", website.Name,
		"failure_type", analysis.FailureType,
		"severity", analysis.Severity,
		"model", analysis.Model,
	)
	return nil
}

func (a *Analyzer) HealthCheck(ctx context.Context) error {
	if !a.isRunning.Load() {
		return fmt.Errorf("analyzer is not running")
	}
	return nil
}

func (a *Analyzer) Status() map[string]interface{} {
	return map[string]interface{}{
		"is_running":    a.isRunning.Load(),
		"batch_size":    a.cfg.BatchSize,
		"poll_interval": a.cfg.PollInterval.String(),
		"history_limit": a.cfg.HistoryLimit,
	}
}
