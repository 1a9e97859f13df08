// Package pub fans completed decisions out to downstream consumers:
// a redis cache for latest-value reads and a kafka topic for the
// durable event stream. Both sinks are best-effort; publish failures
// never block the decision path.
package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/config"
	"github.com/jackson97300/mia-core/internal/pipeline"
)

const (
	latestKey      = "mia:decisions:latest"
	decisionKeyFmt = "mia:decisions:%s"
	alertChannel   = "mia:alerts"
)

// RedisStore caches decisions for low-latency reads.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore connects with the configured address.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client: client,
		ttl:    time.Duration(cfg.TTLSeconds) * time.Second,
	}
}

// NewRedisStoreWithClient injects a client, used by tests.
func NewRedisStoreWithClient(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Publish writes the decision under its run ID and refreshes the
// latest pointer.
func (s *RedisStore) Publish(ctx context.Context, d *pipeline.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", d.ID, err)
	}

	key := fmt.Sprintf(decisionKeyFmt, d.ID)
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if err := s.client.Set(ctx, latestKey, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", latestKey, err)
	}
	return nil
}

// AlertSink exposes the store as an alert dispatcher sink publishing
// on the shared alert channel.
func (s *RedisStore) AlertSink() *RedisAlertSink {
	return &RedisAlertSink{store: s}
}

// RedisAlertSink fans alerts out over redis pub/sub so external
// consumers can subscribe without polling the HTTP interface.
type RedisAlertSink struct {
	store *RedisStore
}

func (a *RedisAlertSink) Name() string { return "redis" }

// Deliver publishes the alert on the alert channel. Subscriber count
// is ignored; pub/sub delivery is fire and forget.
func (a *RedisAlertSink) Deliver(alert alerts.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := a.store.client.Publish(context.Background(), alertChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", alertChannel, err)
	}
	return nil
}

// Latest reads the most recent decision, or nil when none is cached.
func (s *RedisStore) Latest(ctx context.Context) (*pipeline.Decision, error) {
	raw, err := s.client.Get(ctx, latestKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", latestKey, err)
	}
	var d pipeline.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode cached decision: %w", err)
	}
	return &d, nil
}
