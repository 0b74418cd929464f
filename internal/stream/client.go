// Package stream wraps the Redis Streams commands the pipeline relies on:
// append, competing-consumer group reads, acknowledge and stale-entry
// claiming over the two ordered logs coordinating the pipeline stages.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(cfg Config) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Entry is one stream entry as delivered to a consumer group.
type Entry struct {
	ID     string
	Values map[string]interface{}
}

// Pending describes an unacknowledged entry in a group's pending list.
type Pending struct {
	ID            string
	Consumer      string
	Idle          time.Duration
	DeliveryCount int64
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Append adds an entry to the stream and returns its generated ID.
func (c *Client) Append(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group from the beginning of the stream,
// creating the stream itself when it does not exist yet. An already existing
// group is success, not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup fetches up to count entries not yet delivered to this group.
// A non-positive block makes the read non-blocking, so an empty poll
// returns a nil slice immediately, not an error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		// go-redis sends BLOCK for any non-negative value, and BLOCK 0
		// waits forever on an empty stream. A negative value omits the
		// argument entirely.
		block = -1
	}
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, group, err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Values: msg.Values})
		}
	}
	return entries, nil
}

// Ack removes entries from the group's pending list.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s/%s: %w", stream, group, err)
	}
	return nil
}

// AutoClaim transfers ownership of entries that have been pending longer
// than minIdle to the given consumer, so work owned by a crashed consumer
// is eventually redelivered to a live one.
func (c *Client) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s/%s: %w", stream, group, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Values: msg.Values})
	}
	return entries, nil
}

// PendingInfo returns delivery accounting for specific pending entry IDs.
func (c *Client) PendingInfo(ctx context.Context, stream, group string, ids []string) (map[string]Pending, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ext, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  int64(len(ids)) + 64,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	info := make(map[string]Pending, len(ids))
	for _, p := range ext {
		if _, ok := wanted[p.ID]; !ok {
			continue
		}
		info[p.ID] = Pending{
			ID:            p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		}
	}
	return info, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
