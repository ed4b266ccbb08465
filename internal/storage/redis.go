package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeonardoBeccarini/sensor-bridge/internal/model"
)

// RedisLatest keeps the most recent reading per destination in a hash, the
// hot path for "latest value" reads. Entries expire so dead sensors vanish.
type RedisLatest struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLatest connects and pings. ttl <= 0 means 24h.
func NewRedisLatest(ctx context.Context, addr string, ttl time.Duration) (*RedisLatest, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s not reachable: %w", addr, err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisLatest{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisLatest) Name() string { return "redis" }

// Mirror overwrites the latest entry. Concurrent writers may land out of
// order; readers that care compare the id field.
func (c *RedisLatest) Mirror(ctx context.Context, dest model.Destination, id int64, r model.Reading) error {
	key := LatestKey(dest)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, latestFields(id, r))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis latest %s: %w", key, err)
	}
	return nil
}

func (c *RedisLatest) Close() error { return c.rdb.Close() }

// LatestKey is the hash holding dest's latest reading.
func LatestKey(dest model.Destination) string {
	return "sensor:last:" + dest.String()
}

func latestFields(id int64, r model.Reading) map[string]interface{} {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]interface{}{
		"id":             strconv.FormatInt(id, 10),
		"timestamp":      ts.UTC().Format(time.RFC3339Nano),
		"sensor_reading": strconv.FormatFloat(r.Value, 'f', -1, 64),
		"serial_no":      r.DeviceID,
	}
}
