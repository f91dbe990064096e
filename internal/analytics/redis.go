// Package analytics keeps lightweight per-format outcome counters in Redis.
// Counters back operator dashboards; the optimizer reads its performance
// aggregates from Postgres, not from here.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shortfab/shortfab/internal/domain"
)

// DefaultRetention is how long daily outcome counters are kept.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
	}
}

// RecordOutcome increments the daily counter for a format/outcome pair.
// Best-effort: failures are logged and swallowed so a Redis outage never
// touches the pipeline.
func (s *RedisSink) RecordOutcome(ctx context.Context, format domain.VideoFormat, outcome string) {
	key := buildKey(format, outcome, s.clock())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

// OutcomeCount reads one daily counter. A missing key reads as zero.
func (s *RedisSink) OutcomeCount(ctx context.Context, format domain.VideoFormat, outcome string, day time.Time) (int64, error) {
	count, err := s.client.Get(ctx, buildKey(format, outcome, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return count, nil
}

func buildKey(format domain.VideoFormat, outcome string, t time.Time) string {
	return fmt.Sprintf("sf:outcome:%s:%s:%s", format, outcome, t.UTC().Format("20060102"))
}
