package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/stream"
)

// PendingCheck is a delivered check request plus the broker bookkeeping the
// worker needs to acknowledge it or detect a poison entry.
type PendingCheck struct {
	EntryID       string
	DeliveryCount int64
	Req           domain.CheckRequest
}

// CheckQueue is the request log: the producer appends check requests and the
// worker pool consumes them as a competing-consumer group.
type CheckQueue interface {
	// Setup idempotently creates the consumer group (and the stream).
	Setup(ctx context.Context) error
	// Publish appends one request per website, returning how many were
	// appended. A failed append is logged and does not stop the rest.
	Publish(ctx context.Context, reqs []domain.CheckRequest) (int, error)
	// Fetch claims up to max undelivered requests for this consumer.
	Fetch(ctx context.Context, max int64) ([]PendingCheck, error)
	// Claim takes over requests that have been pending on another consumer
	// for at least minIdle.
	Claim(ctx context.Context, minIdle time.Duration, max int64) ([]PendingCheck, error)
	// Ack acknowledges processed requests.
	Ack(ctx context.Context, ids ...string) error
}

type StreamCheckQueue struct {
	client   *stream.Client
	stream   string
	group    string
	consumer string
	log      *slog.Logger
}

func NewStreamCheckQueue(client *stream.Client, streamName, group, consumer string, log *slog.Logger) *StreamCheckQueue {
	return &StreamCheckQueue{
		client:   client,
		stream:   streamName,
		group:    group,
		consumer: consumer,
		log:      log,
	}
}

func (q *StreamCheckQueue) Setup(ctx context.Context) error {
	return q.client.EnsureGroup(ctx, q.stream, q.group)
}

func (q *StreamCheckQueue) Publish(ctx context.Context, reqs []domain.CheckRequest) (int, error) {
	var appended int
	var lastErr error
	for _, req := range reqs {
		if _, err := q.client.Append(ctx, q.stream, stream.EncodeRequest(req)); err != nil {
			q.log.Error("failed to append check request",
				"website_id", req.WebsiteID,
				"error", err,
			)
			lastErr = err
			continue
		}
		appended++
	}
	return appended, lastErr
}

func (q *StreamCheckQueue) Fetch(ctx context.Context, max int64) ([]PendingCheck, error) {
	entries, err := q.client.ReadGroup(ctx, q.stream, q.group, q.consumer, max, 0)
	if err != nil {
		return nil, err
	}
	return q.decode(ctx, entries, 1), nil
}

func (q *StreamCheckQueue) Claim(ctx context.Context, minIdle time.Duration, max int64) ([]PendingCheck, error) {
	entries, err := q.client.AutoClaim(ctx, q.stream, q.group, q.consumer, minIdle, max)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	pending, err := q.client.PendingInfo(ctx, q.stream, q.group, ids)
	if err != nil {
		// Delivery counts are advisory; claimed entries are still usable.
		q.log.Warn("failed to read pending info for claimed entries", "error", err)
	}

	checks := q.decode(ctx, entries, 1)
	for i := range checks {
		if p, ok := pending[checks[i].EntryID]; ok {
			checks[i].DeliveryCount = p.DeliveryCount
		}
	}
	return checks, nil
}

// decode converts entries to pending checks. Malformed entries are acked and
// dropped here: redelivering them can never make them parse.
func (q *StreamCheckQueue) decode(ctx context.Context, entries []stream.Entry, deliveryCount int64) []PendingCheck {
	checks := make([]PendingCheck, 0, len(entries))
	for _, e := range entries {
		req, err := stream.DecodeRequest(e)
		if err != nil {
			q.log.Warn("dropping malformed check request", "entry_id", e.ID, "error", err)
			if ackErr := q.client.Ack(ctx, q.stream, q.group, e.ID); ackErr != nil {
				q.log.Error("failed to ack malformed entry", "entry_id", e.ID, "error", ackErr)
			}
			continue
		}
		checks = append(checks, PendingCheck{EntryID: e.ID, DeliveryCount: deliveryCount, Req: req})
	}
	return checks
}

func (q *StreamCheckQueue) Ack(ctx context.Context, ids ...string) error {
	return q.client.Ack(ctx, q.stream, q.group, ids...)
}
