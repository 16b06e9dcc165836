// Package history keeps the most recent scored alerts for the listing endpoint.
package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
)

// Store holds recent scored alerts, newest first.
type Store interface {
	Add(ctx context.Context, alerts []*alert.Scored) error
	// List returns up to limit alerts, newest first. An empty bucket matches all.
	List(ctx context.Context, bucket alert.Bucket, limit int) ([]alert.Scored, error)
	Close() error
}

// New builds the store selected by cfg.
func New(cfg config.HistoryConf) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.Capacity), nil
	case "redis":
		return NewRedis(cfg.Redis, cfg.Capacity)
	}
	return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
}

// Memory is a fixed-capacity ring buffer.
type Memory struct {
	mu    sync.RWMutex
	buf   []alert.Scored
	next  int
	count int
}

// NewMemory creates a ring holding at most capacity alerts.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 5000
	}
	return &Memory{buf: make([]alert.Scored, capacity)}
}

// Add implements Store.
func (m *Memory) Add(_ context.Context, alerts []*alert.Scored) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range alerts {
		m.buf[m.next] = *a
		m.next = (m.next + 1) % len(m.buf)
		if m.count < len(m.buf) {
			m.count++
		}
	}
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, bucket alert.Bucket, limit int) ([]alert.Scored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]alert.Scored, 0, min(limit, m.count))
	for i := 0; i < m.count && len(out) < limit; i++ {
		idx := (m.next - 1 - i + len(m.buf)) % len(m.buf)
		if bucket == "" || m.buf[idx].PriorityBucket == bucket {
			out = append(out, m.buf[idx])
		}
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
