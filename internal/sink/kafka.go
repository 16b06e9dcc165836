package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
)

// Kafka produces scored alerts keyed by alert id and incidents keyed by incident id.
// Either topic may be empty to skip that record kind.
type Kafka struct {
	writer         *kafka.Writer
	alertsTopic    string
	incidentsTopic string
}

// NewKafka creates a producer. Topics are set per message.
func NewKafka(brokers []string, alertsTopic, incidentsTopic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Debug(fmt.Sprintf(msg, args...), "component", "kafka-sink")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			slog.Error(fmt.Sprintf(msg, args...), "component", "kafka-sink")
		}),
	}
	return &Kafka{writer: w, alertsTopic: alertsTopic, incidentsTopic: incidentsTopic}, nil
}

// Name implements Writer.
func (k *Kafka) Name() string { return "kafka" }

// WriteAlerts implements Writer.
func (k *Kafka) WriteAlerts(ctx context.Context, alerts []*alert.Scored) error {
	if k.alertsTopic == "" || len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		m, err := message(k.alertsTopic, a.ID, a)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

// WriteIncidents implements Writer.
func (k *Kafka) WriteIncidents(ctx context.Context, incidents []correlate.Snapshot) error {
	if k.incidentsTopic == "" || len(incidents) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(incidents))
	for _, s := range incidents {
		m, err := message(k.incidentsTopic, s.ID, s)
		if err != nil {
			return err
		}
		msgs = append(msgs, m)
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func message(topic, key string, v interface{}) (kafka.Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka sink: marshal %s: %w", key, err)
	}
	return kafka.Message{Topic: topic, Key: []byte(key), Value: b, Time: time.Now()}, nil
}

// Close implements Writer.
func (k *Kafka) Close() error { return k.writer.Close() }
