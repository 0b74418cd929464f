// Package ingest durably persists check results: batches from the status
// stream are written through one idempotent insert and acknowledged only
// after the write succeeds.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/repository"
)

// TickStore is the slice of the durable store the ingester needs.
type TickStore interface {
	InsertTicksBatch(ctx context.Context, ticks []domain.Tick) (int, error)
}

type Config struct {
	BatchSize    int64
	PollInterval time.Duration
}

type Consumer struct {
	results   repository.ResultQueue
	store     TickStore
	cfg       Config
	log       *slog.Logger
	isRunning atomic.Bool
}

func New(results repository.ResultQueue, store TickStore, cfg Config, log *slog.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Minute
	}
	return &Consumer{
		results: results,
		store:   store,
		cfg:     cfg,
		log:     log,
	}
}

// Run processes one batch immediately and then on every interval tick. A
// failed poll is logged and retried on the next tick; the unacked batch is
// redelivered by the broker.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.results.Setup(ctx); err != nil {
		return fmt.Errorf("setup result group: %w", err)
	}

	c.isRunning.Store(true)
	defer c.isRunning.Store(false)

	c.log.Info("ingest consumer started",
		"batch_size", c.cfg.BatchSize,
		"poll_interval", c.cfg.PollInterval,
	)

	if err := c.Poll(ctx); err != nil {
		c.log.Error("poll failed", "error", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil {
				c.log.Error("poll failed", "error", err)
			}
		case <-ctx.Done():
			c.log.Info("ingest consumer stopped")
			return nil
		}
	}
}

// Poll reads one batch, persists it in a single idempotent insert and acks
// exactly the entries covered by the successful write. On insert failure
// nothing is acked and the whole batch becomes a redelivery candidate.
func (c *Consumer) Poll(ctx context.Context) error {
	pending, err := c.results.Fetch(ctx, c.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch results: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	ticks := make([]domain.Tick, len(pending))
	ids := make([]string, len(pending))
	var up, down, unknown int
	for i, p := range pending {
		ticks[i] = domain.TickFromResult(p.Result)
		ids[i] = p.EntryID
		switch p.Result.Status {
		case domain.StatusUp:
			up++
		case domain.StatusDown:
			down++
		default:
			unknown++
		}
	}

	inserted, err := c.store.InsertTicksBatch(ctx, ticks)
	if err != nil {
		return fmt.Errorf("insert ticks: %w", err)
	}

	if err := c.results.Ack(ctx, ids...); err != nil {
		// The write landed; redelivered entries dedupe on the next insert.
		return fmt.Errorf("ack results: %w", err)
	}

	c.log.Info("persisted status batch",
		"received", len(pending),
		"inserted", inserted,
		"up", up,
		"down", down,
		"unknown", unknown,
	)
	return nil
}

func (c *Consumer) HealthCheck(ctx context.Context) error {
	if !c.isRunning.Load() {
		return fmt.Errorf("ingest consumer is not running")
	}
	return nil
}

func (c *Consumer) Status() map[string]interface{} {
	return map[string]interface{}{
		"is_running":    c.isRunning.Load(),
		"batch_size":    c.cfg.BatchSize,
		"poll_interval": c.cfg.PollInterval.String(),
	}
}
