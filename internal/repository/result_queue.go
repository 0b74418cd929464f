package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/upwatch/upwatch/internal/domain"
	"github.com/upwatch/upwatch/internal/stream"
)

// PendingResult is a delivered check result awaiting acknowledgment.
type PendingResult struct {
	EntryID string
	Result  domain.CheckResult
}

// ResultPublisher is the worker-side handle on the result log: append only,
// no consumer-group identity.
type ResultPublisher interface {
	Publish(ctx context.Context, res domain.CheckResult) error
}

// ResultQueue is one consumer group's view of the result log. The ingester
// and the analyzer each construct their own instance with a distinct group
// name, so both read every result via independent cursors.
type ResultQueue interface {
	Setup(ctx context.Context) error
	Fetch(ctx context.Context, max int64) ([]PendingResult, error)
	Ack(ctx context.Context, ids ...string) error
}

type StreamResultPublisher struct {
	client *stream.Client
	stream string
}

func NewStreamResultPublisher(client *stream.Client, streamName string) *StreamResultPublisher {
	return &StreamResultPublisher{client: client, stream: streamName}
}

func (p *StreamResultPublisher) Publish(ctx context.Context, res domain.CheckResult) error {
	if _, err := p.client.Append(ctx, p.stream, stream.EncodeResult(res)); err != nil {
		return fmt.Errorf("publish result for website %s: %w", res.WebsiteID, err)
	}
	return nil
}

type StreamResultQueue struct {
	client   *stream.Client
	stream   string
	group    string
	consumer string
	log      *slog.Logger
}

func NewStreamResultQueue(client *stream.Client, streamName, group, consumer string, log *slog.Logger) *StreamResultQueue {
	return &StreamResultQueue{
		client:   client,
		stream:   streamName,
		group:    group,
		consumer: consumer,
		log:      log,
	}
}

func (q *StreamResultQueue) Setup(ctx context.Context) error {
	return q.client.EnsureGroup(ctx, q.stream, q.group)
}

func (q *StreamResultQueue) Fetch(ctx context.Context, max int64) ([]PendingResult, error) {
	entries, err := q.client.ReadGroup(ctx, q.stream, q.group, q.consumer, max, 0)
	if err != nil {
		return nil, err
	}

	results := make([]PendingResult, 0, len(entries))
	for _, e := range entries {
		res, err := stream.DecodeResult(e)
		if err != nil {
			q.log.Warn("dropping malformed check result", "entry_id", e.ID, "error", err)
			if ackErr := q.client.Ack(ctx, q.stream, q.group, e.ID); ackErr != nil {
				q.log.Error("failed to ack malformed entry", "entry_id", e.ID, "error", ackErr)
			}
			continue
		}
		results = append(results, PendingResult{EntryID: e.ID, Result: res})
	}
	return results, nil
}

func (q *StreamResultQueue) Ack(ctx context.Context, ids ...string) error {
	return q.client.Ack(ctx, q.stream, q.group, ids...)
}
