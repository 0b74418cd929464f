// Package producer enumerates monitored websites on a fixed interval and
// appends one check request per website to the check stream.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/repository"
)

// WebsiteLister is the slice of the durable store the producer needs.
type WebsiteLister interface {
	ListWebsites(ctx context.Context) ([]domain.Website, error)
}

type Producer struct {
	store     WebsiteLister
	checks    repository.CheckQueue
	interval  time.Duration
	log       *slog.Logger
	isRunning atomic.Bool
}

func New(store WebsiteLister, checks repository.CheckQueue, interval time.Duration, log *slog.Logger) *Producer {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	return &Producer{
		store:    store,
		checks:   checks,
		interval: interval,
		log:      log,
	}
}

// Run enqueues one cycle immediately and then on every interval tick until
// the context is cancelled. A failed cycle is logged and retried by the
// next scheduled run; it never stops the loop.
func (p *Producer) Run(ctx context.Context) error {
	p.isRunning.Store(true)
	defer p.isRunning.Store(false)

	p.log.Info("producer started", "interval", p.interval)

	if err := p.cycle(ctx); err != nil {
		p.log.Error("enqueue cycle failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.cycle(ctx); err != nil {
				p.log.Error("enqueue cycle failed", "error", err)
			}
		case <-ctx.Done():
			p.log.Info("producer stopped")
			return nil
		}
	}
}

func (p *Producer) cycle(ctx context.Context) error {
	websites, err := p.store.ListWebsites(ctx)
	if err != nil {
		return fmt.Errorf("list websites: %w", err)
	}
	if len(websites) == 0 {
		p.log.Debug("no websites to enqueue")
		return nil
	}

	reqs := make([]domain.CheckRequest, len(websites))
	for i, w := range websites {
		reqs[i] = domain.CheckRequest{WebsiteID: w.ID, URL: w.URL}
	}

	// Per-website append failures are logged inside Publish; the websites
	// that failed are simply picked up again next interval.
	appended, err := p.checks.Publish(ctx, reqs)
	if err != nil {
		p.log.Warn("some check requests were not appended",
			"appended", appended,
			"total", len(reqs),
			"error", err,
		)
	} else {
		p.log.Info("enqueued check requests", "count", appended)
	}
	return nil
}

func (p *Producer) HealthCheck(ctx context.Context) error {
	if !p.isRunning.Load() {
		return fmt.Errorf("producer is not running")
	}
	return nil
}

func (p *Producer) Status() map[string]interface{} {
	return map[string]interface{}{
		"is_running": p.isRunning.Load(),
		"interval":   p.interval.String(),
	}
}
