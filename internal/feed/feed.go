// Package feed connects the engine to the outside world: the Redis cache
// the trading runtime writes performance metrics into, and the exchange
// account the lifecycle manager draws equity figures from. Paper mode
// swaps both for synthetic implementations.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/evofunk/internal/config"
	"github.com/ajitpratap0/evofunk/internal/strategy"
)

const metricsKeyPrefix = "evofunk:metrics:"

// MetricsEntry is the JSON document the trading runtime publishes per
// strategy. Stale entries expire through the cache TTL.
type MetricsEntry struct {
	Metrics     strategy.MetricsBundle `json:"metrics"`
	RealizedPnL float64                `json:"realized_pnl"`
	Timestamp   time.Time              `json:"timestamp"`
}

// RedisFeed reads strategy performance snapshots from Redis
type RedisFeed struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisFeed connects a feed to the metrics cache
func NewRedisFeed(cfg *config.Config) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisFeed{
		client: client,
		ttl:    time.Duration(cfg.Redis.CacheTTL) * time.Second,
		log:    config.NewLogger("feed"),
	}, nil
}

// NewRedisFeedFromClient wraps an existing client; tests use it with
// miniredis
func NewRedisFeedFromClient(client *redis.Client, ttl time.Duration) *RedisFeed {
	return &RedisFeed{
		client: client,
		ttl:    ttl,
		log:    config.NewLogger("feed"),
	}
}

// Snapshot returns the latest published metrics for a strategy. A missing
// key is an error: without fresh evidence the caller must keep the
// previous snapshot rather than assume zeros.
func (f *RedisFeed) Snapshot(ctx context.Context, s *strategy.Strategy) (strategy.MetricsBundle, float64, error) {
	opCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	raw, err := f.client.Get(opCtx, metricsKeyPrefix+s.ID).Result()
	if err == redis.Nil {
		return strategy.MetricsBundle{}, 0, fmt.Errorf("no metrics published for strategy %s", s.ID)
	}
	if err != nil {
		return strategy.MetricsBundle{}, 0, fmt.Errorf("failed to read metrics cache: %w", err)
	}

	var entry MetricsEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return strategy.MetricsBundle{}, 0, fmt.Errorf("failed to unmarshal metrics entry: %w", err)
	}
	return entry.Metrics, entry.RealizedPnL, nil
}

// Publish writes a metrics entry with the cache TTL. The trading runtime
// normally does this; paper mode and tests call it directly.
func (f *RedisFeed) Publish(ctx context.Context, strategyID string, entry MetricsEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics entry: %w", err)
	}
	if err := f.client.Set(ctx, metricsKeyPrefix+strategyID, data, f.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write metrics cache: %w", err)
	}
	return nil
}

// Ping checks the cache connection
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close releases the Redis connection
func (f *RedisFeed) Close() error {
	return f.client.Close()
}
