// Package source pulls raw alerts from Redis lists and Kafka topics and
// submits them to the engine in micro-batches.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/metrics"
)

// Handler receives a batch of raw alert objects. It is engine.ProcessBatch in production.
type Handler func(ctx context.Context, raws []interface{}) error

// Settings controls micro-batching.
type Settings struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxBatch splits oversized flushes into several Handler calls.
	MaxBatch int
}

func (s Settings) withDefaults() Settings {
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = time.Second
	}
	if s.MaxBatch <= 0 {
		s.MaxBatch = s.BatchSize
	}
	return s
}

// Decode parses one message payload: a JSON object or an array of them.
// Numbers are kept as json.Number so that large integer ids survive intact.
func Decode(b []byte) ([]interface{}, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if b[0] == '[' {
		var arr []interface{}
		if err := unmarshal(b, &arr); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return arr, nil
	}
	var obj map[string]interface{}
	if err := unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return []interface{}{obj}, nil
}

func unmarshal(b []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// chunks splits raws into slices of at most n.
func chunks(raws []interface{}, n int) [][]interface{} {
	var out [][]interface{}
	for len(raws) > n {
		out = append(out, raws[:n:n])
		raws = raws[n:]
	}
	if len(raws) > 0 {
		out = append(out, raws)
	}
	return out
}

// collect groups items from in and calls flush when BatchSize items are
// pending or FlushInterval elapses. It returns once in is closed, after
// flushing whatever is pending.
func collect[M any](in <-chan M, s Settings, flush func([]M)) {
	ticker := time.NewTicker(s.FlushInterval)
	defer ticker.Stop()

	pending := make([]M, 0, s.BatchSize)
	emit := func() {
		if len(pending) == 0 {
			return
		}
		flush(pending)
		pending = make([]M, 0, s.BatchSize)
	}
	for {
		select {
		case m, ok := <-in:
			if !ok {
				emit()
				return
			}
			pending = append(pending, m)
			if len(pending) >= s.BatchSize {
				emit()
			}
		case <-ticker.C:
			emit()
		}
	}
}

// submit hands raws to h in chunks of at most maxBatch and returns the first error.
func submit(ctx context.Context, intake string, h Handler, maxBatch int, raws []interface{}) error {
	if len(raws) == 0 {
		return nil
	}
	metrics.AlertsReceived.WithLabelValues(intake).Add(float64(len(raws)))
	var first error
	for _, c := range chunks(raws, maxBatch) {
		if err := h(ctx, c); err != nil {
			slog.Error("submit batch failed", "intake", intake, "alerts", len(c), "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// flushContext outlives ctx so that messages already taken off the queue
// are still scored during shutdown.
func flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
