package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
)

// Redis keeps recent alerts in a capped Redis list shared by every replica.
type Redis struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewRedis connects to the list described by cfg.
func NewRedis(cfg config.RedisConf, capacity int) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis history: addr is required")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis history: key is required")
	}
	if capacity <= 0 {
		capacity = 5000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client, key: cfg.Key, capacity: capacity}, nil
}

// Add implements Store. Alerts are pushed to the head and the list is trimmed to capacity.
func (r *Redis) Add(ctx context.Context, alerts []*alert.Scored) error {
	if len(alerts) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(alerts))
	for _, a := range alerts {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal alert %s: %w", a.ID, err)
		}
		values = append(values, b)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, values...)
	pipe.LTrim(ctx, r.key, 0, int64(r.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis history add: %w", err)
	}
	return nil
}

// List implements Store. With a bucket filter the whole list is scanned.
func (r *Redis) List(ctx context.Context, bucket alert.Bucket, limit int) ([]alert.Scored, error) {
	stop := int64(limit - 1)
	if bucket != "" {
		stop = -1
	}
	raw, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history list: %w", err)
	}
	out := make([]alert.Scored, 0, min(limit, len(raw)))
	for _, s := range raw {
		if len(out) >= limit {
			break
		}
		var a alert.Scored
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			slog.Warn("skipping undecodable history entry", "key", r.key, "err", err)
			continue
		}
		if bucket == "" || a.PriorityBucket == bucket {
			out = append(out, a)
		}
	}
	return out, nil
}

// Close implements Store.
func (r *Redis) Close() error { return r.client.Close() }
