package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/aria/internal/config"
)

// Redis pops raw alerts from a list with BLPOP. Each element is one JSON
// object or an array of objects.
type Redis struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
	s            Settings
	handle       Handler
}

// NewRedis creates a list consumer.
func NewRedis(cfg config.RedisSourceConf, s Settings, h Handler) (*Redis, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
		s:            s.withDefaults(),
		handle:       h,
	}, nil
}

// Pop pops one message from the list. It returns nil, nil when the block timeout expires.
func (r *Redis) Pop(ctx context.Context) ([]byte, error) {
	res, err := r.client.BLPop(ctx, r.blockTimeout, r.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Run consumes until ctx is cancelled. Popped messages are flushed before it returns.
func (r *Redis) Run(ctx context.Context) {
	slog.Info("redis source started", "key", r.key, "batch_size", r.s.BatchSize)
	msgs := make(chan []byte, r.s.BatchSize)
	go r.readLoop(ctx, msgs)
	collect(msgs, r.s, func(batch [][]byte) {
		fctx, cancel := flushContext(ctx)
		defer cancel()
		submit(fctx, "redis", r.handle, r.s.MaxBatch, decodeAll("redis", batch))
	})
	slog.Info("redis source stopped", "key", r.key)
}

func (r *Redis) readLoop(ctx context.Context, out chan<- []byte) {
	defer close(out)
	for ctx.Err() == nil {
		b, err := r.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("redis pop failed", "key", r.key, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if b == nil {
			continue
		}
		out <- b
	}
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }

func decodeAll(intake string, batch [][]byte) []interface{} {
	raws := make([]interface{}, 0, len(batch))
	for _, b := range batch {
		items, err := Decode(b)
		if err != nil {
			slog.Warn("dropping undecodable message", "intake", intake, "bytes", len(b), "err", err)
			continue
		}
		raws = append(raws, items...)
	}
	return raws
}
