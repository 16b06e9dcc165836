package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/aria/internal/config"
)

// Build registers every enabled sink. On error, sinks opened so far are closed.
func Build(ctx context.Context, cfg config.SinksConf) (*Registry, error) {
	reg := NewRegistry()
	fail := func(err error) (*Registry, error) {
		reg.Close()
		return nil, err
	}

	if cfg.File.Enabled {
		w, err := NewFile(cfg.File.AlertsPath, cfg.File.IncidentsPath)
		if err != nil {
			return fail(fmt.Errorf("file sink: %w", err))
		}
		reg.Register(w)
	}
	if cfg.HTTP.Enabled {
		w, err := NewHTTP(cfg.HTTP.URL, cfg.HTTP.Timeout, cfg.HTTP.Headers)
		if err != nil {
			return fail(err)
		}
		reg.Register(w)
	}
	if cfg.Kafka.Enabled {
		w, err := NewKafka(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic, cfg.Kafka.IncidentsTopic)
		if err != nil {
			return fail(err)
		}
		reg.Register(w)
	}
	if cfg.ClickHouse.Enabled {
		w, err := NewClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return fail(err)
		}
		reg.Register(w)
	}

	slog.Info("sinks configured", "sinks", reg.Names())
	return reg, nil
}

// SettingsFrom maps sink config to emitter settings.
func SettingsFrom(cfg config.SinksConf) EmitterSettings {
	return EmitterSettings{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Buffer:        cfg.Buffer,
	}
}
