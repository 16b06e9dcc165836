package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gyaneshwarpardhi/aria/internal/config"
)

// Kafka consumes raw alerts from a topic within a consumer group. Offsets
// are committed only after the batch containing them has been submitted.
type Kafka struct {
	reader *kafka.Reader
	topic  string
	s      Settings
	handle Handler
}

// NewKafka creates a group reader.
func NewKafka(cfg config.KafkaSourceConf, s Settings, h Handler) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka source: no brokers")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka source: topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Debug(fmt.Sprintf(msg, args...), "component", "kafka-source")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-source")
		}),
	})
	return &Kafka{reader: reader, topic: cfg.Topic, s: s.withDefaults(), handle: h}, nil
}

// Run consumes until ctx is cancelled.
func (k *Kafka) Run(ctx context.Context) {
	slog.Info("kafka source started", "topic", k.topic, "batch_size", k.s.BatchSize)
	msgs := make(chan kafka.Message, k.s.BatchSize)
	go k.fetchLoop(ctx, msgs)
	collect(msgs, k.s, func(batch []kafka.Message) {
		fctx, cancel := flushContext(ctx)
		defer cancel()
		values := make([][]byte, len(batch))
		for i, m := range batch {
			values[i] = m.Value
		}
		if err := submit(fctx, "kafka", k.handle, k.s.MaxBatch, decodeAll("kafka", values)); err != nil {
			// left uncommitted so the group redelivers them
			return
		}
		if err := k.reader.CommitMessages(fctx, batch...); err != nil {
			slog.Error("kafka commit failed", "topic", k.topic, "messages", len(batch), "err", err)
		}
	})
	slog.Info("kafka source stopped", "topic", k.topic)
}

func (k *Kafka) fetchLoop(ctx context.Context, out chan<- kafka.Message) {
	defer close(out)
	for {
		m, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("kafka fetch failed", "topic", k.topic, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		out <- m
	}
}

// Close closes the reader.
func (k *Kafka) Close() error { return k.reader.Close() }
