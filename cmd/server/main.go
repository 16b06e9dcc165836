package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/api"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
	"github.com/gyaneshwarpardhi/aria/internal/engine"
	"github.com/gyaneshwarpardhi/aria/internal/history"
	"github.com/gyaneshwarpardhi/aria/internal/sink"
	"github.com/gyaneshwarpardhi/aria/internal/source"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/aria.yaml", "Path to YAML config")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Pipeline ─────────────────────────────────────────────────────────────
	corr := correlate.New(correlate.Settings{
		Window:       cfg.Correlation.Window,
		Shards:       cfg.Correlation.Shards,
		RetainClosed: cfg.Correlation.RetainClosed,
	})
	// the engine outlives ctx so that sources can flush during shutdown
	engCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	eng, err := engine.New(engCtx, cfg, corr)
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}
	slog.Info("engine started",
		"workers", cfg.Engine.Workers,
		"queue_depth", cfg.Engine.QueueDepth,
		"rules", eng.RuleCount(),
		"window", cfg.Correlation.Window,
	)

	// ── History and sinks ────────────────────────────────────────────────────
	hist, err := history.New(cfg.History)
	if err != nil {
		slog.Error("failed to open history store", "err", err)
		os.Exit(1)
	}
	defer hist.Close()

	sinks, err := sink.Build(ctx, cfg.Sinks)
	if err != nil {
		slog.Error("failed to configure sinks", "err", err)
		os.Exit(1)
	}
	defer sinks.Close()
	emitter := sink.NewEmitter(sinks, sink.SettingsFrom(cfg.Sinks))
	emitCtx, stopEmitter := context.WithCancel(context.Background())
	go emitter.Run(emitCtx)

	eng.OnBatch(func(res *engine.BatchResult) {
		if len(res.ScoredAlerts) == 0 {
			return
		}
		if err := hist.Add(context.Background(), res.ScoredAlerts); err != nil {
			slog.Warn("history add failed", "batch_id", res.BatchID, "err", err)
		}
		if sinks.Len() > 0 {
			emitter.EmitAlerts(res.ScoredAlerts)
		}
	})
	corr.OnClose(func(s correlate.Snapshot) {
		slog.Info("incident closed",
			"incident_id", s.ID,
			"alerts", len(s.Alerts),
			"priority_bucket", s.PriorityBucket,
		)
		if sinks.Len() > 0 {
			emitter.EmitIncident(s)
		}
	})

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) error {
		if err := eng.Apply(newCfg); err != nil {
			slog.Warn("hot-reload skipped: engine rejected config", "err", err)
			return err
		}
		slog.Info("config hot-reloaded", "version", newCfg.Version, "rules", eng.RuleCount())
		return nil
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Background maintenance ───────────────────────────────────────────────
	go corr.Run(ctx, cfg.Correlation.SweepInterval)
	go eng.Maintain(ctx, time.Minute)

	// ── Pull sources ─────────────────────────────────────────────────────────
	submit := func(ctx context.Context, raws []interface{}) error {
		res, err := eng.ProcessBatch(ctx, raws)
		if err != nil {
			return err
		}
		return res.Err()
	}
	var sources sync.WaitGroup
	if rc := cfg.Sources.Redis; rc.Enabled {
		src, err := source.NewRedis(rc, source.Settings{
			BatchSize:     rc.BatchSize,
			FlushInterval: rc.FlushInterval,
			MaxBatch:      cfg.Engine.MaxBatch,
		}, submit)
		if err != nil {
			slog.Error("failed to start redis source", "err", err)
			os.Exit(1)
		}
		defer src.Close()
		sources.Add(1)
		go func() {
			defer sources.Done()
			src.Run(ctx)
		}()
	}
	if kc := cfg.Sources.Kafka; kc.Enabled {
		src, err := source.NewKafka(kc, source.Settings{
			BatchSize:     kc.BatchSize,
			FlushInterval: kc.FlushInterval,
			MaxBatch:      cfg.Engine.MaxBatch,
		}, submit)
		if err != nil {
			slog.Error("failed to start kafka source", "err", err)
			os.Exit(1)
		}
		defer src.Close()
		sources.Add(1)
		go func() {
			defer sources.Done()
			src.Run(ctx)
		}()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         *addr,
		Handler:      api.New(eng, loader, hist),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop sources, sweeper and maintenance
	sources.Wait()
	eng.Shutdown()
	stopEngine()
	stopEmitter()
	emitter.Wait()
	slog.Info("goodbye", "open_incidents", corr.OpenCount())
}
