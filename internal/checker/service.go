// Package checker runs one probe worker: a competing consumer on the check
// stream that probes batches of URLs concurrently and publishes one result
// per request to the status stream.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/probe"
	"github.com/upwatch/upwatch/internal/repository"
)

// Prober abstracts the HTTP probe for tests.
type Prober interface {
	Probe(ctx context.Context, url string) probe.Outcome
}

type Config struct {
	RegionID     string
	BatchSize    int64
	PollInterval time.Duration
	// Every ClaimEvery polls the worker also claims entries left pending by
	// dead consumers for at least ClaimMinIdle.
	ClaimEvery   int
	ClaimMinIdle time.Duration
	// MaxDeliveries bounds redelivery of a poison request before it is
	// acked and dropped.
	MaxDeliveries int64
}

type Service struct {
	checks    repository.CheckQueue
	results   repository.ResultPublisher
	prober    Prober
	cfg       Config
	log       *slog.Logger
	polls     int
	isRunning atomic.Bool
}

func New(checks repository.CheckQueue, results repository.ResultPublisher, prober Prober, cfg Config, log *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ClaimEvery <= 0 {
		cfg.ClaimEvery = 10
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}

	return &Service{
		checks:  checks,
		results: results,
		prober:  prober,
		cfg:     cfg,
		log:     log,
	}
}

// Run polls the check stream until the context is cancelled. One failed
// poll is logged and the loop continues on the next tick.
func (s *Service) Run(ctx context.Context) error {
	if err := s.checks.Setup(ctx); err != nil {
		return fmt.Errorf("setup check group: %w", err)
	}

	s.isRunning.Store(true)
	defer s.isRunning.Store(false)

	s.log.Info("checker started",
		"region", s.cfg.RegionID,
		"batch_size", s.cfg.BatchSize,
		"poll_interval", s.cfg.PollInterval,
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				s.log.Error("poll failed", "error", err)
			}
		case <-ctx.Done():
			s.log.Info("checker stopped")
			return nil
		}
	}
}

// Poll fetches one batch (plus periodically claimed stale entries), probes
// it concurrently, publishes results and acks only the requests whose
// result reached the status stream.
func (s *Service) Poll(ctx context.Context) error {
	batch, err := s.checks.Fetch(ctx, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch checks: %w", err)
	}

	s.polls++
	if s.polls%s.cfg.ClaimEvery == 0 {
		claimed, err := s.claimStale(ctx)
		if err != nil {
			s.log.Warn("claiming stale entries failed", "error", err)
		}
		batch = append(batch, claimed...)
	}

	if len(batch) == 0 {
		return nil
	}

	outcomes := make([]probe.Outcome, len(batch))
	workers := pool.New().WithMaxGoroutines(len(batch))
	for i, pc := range batch {
		i, pc := i, pc
		workers.Go(func() {
			outcomes[i] = s.prober.Probe(ctx, pc.Req.URL)
		})
	}
	workers.Wait()

	var ackIDs []string
	var up, down int
	for i, pc := range batch {
		result := s.buildResult(pc.Req, outcomes[i])
		if err := s.results.Publish(ctx, result); err != nil {
			// No ack: the broker redelivers the request later.
			s.log.Error("failed to publish result",
				"website_id", pc.Req.WebsiteID,
				"entry_id", pc.EntryID,
				"error", err,
			)
			continue
		}
		ackIDs = append(ackIDs, pc.EntryID)
		if result.Status == domain.StatusUp {
			up++
		} else {
			down++
		}
	}

	if err := s.checks.Ack(ctx, ackIDs...); err != nil {
		return fmt.Errorf("ack checks: %w", err)
	}

	s.log.Info("batch processed",
		"total", len(batch),
		"up", up,
		"down", down,
		"acked", len(ackIDs),
	)
	return nil
}

// claimStale takes over long-pending entries from dead consumers. Entries
// redelivered more than MaxDeliveries times are acked and dropped so a
// poison request cannot loop forever.
func (s *Service) claimStale(ctx context.Context) ([]repository.PendingCheck, error) {
	claimed, err := s.checks.Claim(ctx, s.cfg.ClaimMinIdle, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	kept := claimed[:0]
	for _, pc := range claimed {
		if pc.DeliveryCount > s.cfg.MaxDeliveries {
			s.log.Error("dropping poison check request",
				"entry_id", pc.EntryID,
				"website_id", pc.Req.WebsiteID,
				"deliveries", pc.DeliveryCount,
			)
			if err := s.checks.Ack(ctx, pc.EntryID); err != nil {
				s.log.Error("failed to ack poison entry", "entry_id", pc.EntryID, "error", err)
			}
			continue
		}
		kept = append(kept, pc)
	}

	if len(kept) > 0 {
		s.log.Info("claimed stale check requests", "count", len(kept))
	}
	return kept, nil
}

func (s *Service) buildResult(req domain.CheckRequest, out probe.Outcome) domain.CheckResult {
	return domain.CheckResult{
		WebsiteID:       req.WebsiteID,
		Status:          out.Status,
		RegionID:        s.cfg.RegionID,
		ResponseTimeMs:  out.ResponseTimeMs,
		CheckedAt:       time.Now().UTC(),
		HTTPStatusCode:  out.HTTPStatusCode,
		ErrorKind:       out.ErrorKind,
		ErrorMessage:    out.ErrorMessage,
		ResponseHeaders: out.ResponseHeaders,
		DNSResolutionMs: out.DNSResolutionMs,
		TLS:             out.TLS,
	}
}

func (s *Service) HealthCheck(ctx context.Context) error {
	if !s.isRunning.Load() {
		return fmt.Errorf("checker is not running")
	}
	return nil
}

func (s *Service) Status() map[string]interface{} {
	return map[string]interface{}{
		"is_running":    s.isRunning.Load(),
		"region":        s.cfg.RegionID,
		"batch_size":    s.cfg.BatchSize,
		"poll_interval": s.cfg.PollInterval.String(),
	}
}
