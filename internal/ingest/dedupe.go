package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records which platform events were already accepted so webhook
// redeliveries never become duplicate guest replies.
type Deduper struct {
	redis  *redis.Client
	window time.Duration
}

// NewDeduper creates a deduper. The window bounds how long an event id is
// remembered; platforms redeliver within hours, not days.
func NewDeduper(rdb *redis.Client, window time.Duration) *Deduper {
	if rdb == nil {
		panic("ingest: redis client cannot be nil")
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Deduper{redis: rdb, window: window}
}

func dedupeKey(platform, eventID string) string {
	return fmt.Sprintf("ingest_seen:%s:%s", platform, eventID)
}

// FirstSeen atomically claims (platform, eventID), returning true exactly
// once. Concurrent deliveries of the same event race on SETNX and only one
// wins.
func (d *Deduper) FirstSeen(ctx context.Context, platform, eventID string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, dedupeKey(platform, eventID), 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("ingest: dedupe check failed: %w", err)
	}
	return ok, nil
}

// Release drops the claim on (platform, eventID) so a redelivery can claim it
// again. Used when the event could not be handed downstream after all; a
// claimed-but-unprocessed event would otherwise be lost.
func (d *Deduper) Release(ctx context.Context, platform, eventID string) error {
	if err := d.redis.Del(ctx, dedupeKey(platform, eventID)).Err(); err != nil {
		return fmt.Errorf("ingest: dedupe release failed: %w", err)
	}
	return nil
}
