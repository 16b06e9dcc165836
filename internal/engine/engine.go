// Package engine runs the triage pipeline: normalize, build features, score,
// combine and correlate, for batches of raw alerts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
	"github.com/gyaneshwarpardhi/aria/internal/features"
	"github.com/gyaneshwarpardhi/aria/internal/metrics"
	"github.com/gyaneshwarpardhi/aria/internal/normalize"
	"github.com/gyaneshwarpardhi/aria/internal/priority"
	"github.com/gyaneshwarpardhi/aria/internal/rules"
	"github.com/gyaneshwarpardhi/aria/internal/scoring"
)

// Per-alert outcomes reported in a BatchResult.
const (
	OutcomeScored    = "scored"
	OutcomeDegraded  = "degraded"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// ErrBatchTooLarge is returned when a batch exceeds engine.max_batch.
var ErrBatchTooLarge = errors.New("batch too large")

// AlertResult is the outcome for one element of a batch.
type AlertResult struct {
	Index      int    `json:"index"`
	AlertID    string `json:"alert_id,omitempty"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
	// Retry is set when the rejection was caused by load or shutdown rather
	// than by the alert itself; resubmitting the alert is safe.
	Retry bool `json:"retry,omitempty"`
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	BatchID      string               `json:"batch_id"`
	ScoredAlerts []*alert.Scored      `json:"scored_alerts"`
	Incidents    []correlate.Snapshot `json:"incidents"`
	Results      []AlertResult        `json:"results"`
	DurationMs   int64                `json:"duration_ms"`
}

// ErrRetryable reports alerts that were rejected for transient reasons.
var ErrRetryable = errors.New("alerts rejected for transient reasons")

// Err returns an ErrRetryable error when any alert in the batch was rejected
// because of load, cancellation or shutdown. Duplicates of the alerts that
// did get through are recognized on resubmission.
func (r *BatchResult) Err() error {
	n := 0
	for _, ar := range r.Results {
		if ar.Retry {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d", ErrRetryable, n, len(r.Results))
}

// runtime is the hot-reloadable part of the pipeline.
type runtime struct {
	settings  priority.Settings
	composite *scoring.Composite
	rules     int
}

// Engine processes alert batches. Normalization, features and scoring run on
// a worker pool; correlation runs in request order.
type Engine struct {
	rt         atomic.Pointer[runtime]
	normalizer *normalize.Normalizer
	builder    *features.Builder
	anomaly    *scoring.AnomalyModel
	correlator *correlate.Correlator
	pool       *workerPool[map[string]interface{}, *alert.Scored]
	conf       config.EngineConf
	stopMu     sync.RWMutex // held for reading while submitting to pool
	stopped    bool

	newest        atomic.Int64 // newest alert timestamp seen, unix nanos
	historyWindow time.Duration
	anomalyWindow time.Duration

	mu      sync.RWMutex
	onBatch []func(*BatchResult)
}

// New builds the pipeline from cfg and starts the worker pool. Normalizer,
// feature and anomaly settings are fixed for the life of the Engine.
func New(ctx context.Context, cfg *config.Config, corr *correlate.Correlator) (*Engine, error) {
	extra := make([]normalize.EntityRule, 0, len(cfg.Normalizer.Entities))
	for _, ec := range cfg.Normalizer.Entities {
		extra = append(extra, normalize.EntityRule{Kind: ec.Kind, Fields: ec.Fields})
	}
	n := normalize.New(cfg.Normalizer.DefaultSource, extra)

	e := &Engine{
		normalizer: n,
		builder: features.NewBuilder(features.Settings{
			Kinds:            n.Kinds(),
			HistoryWindow:    cfg.Features.HistoryWindow,
			HistoryMaxKeep:   cfg.Features.HistoryMaxKeep,
			EventTypeBuckets: cfg.Features.EventTypeBuckets,
			NightStartHour:   cfg.Features.NightStartHour,
			NightEndHour:     cfg.Features.NightEndHour,
		}),
		anomaly:       scoring.NewAnomalyModel(scoring.AnomalySettingsFrom(cfg.Scoring.Anomaly)),
		correlator:    corr,
		conf:          cfg.Engine,
		historyWindow: cfg.Features.HistoryWindow,
		anomalyWindow: cfg.Scoring.Anomaly.BaselineWindow,
	}
	if err := e.Apply(cfg); err != nil {
		return nil, err
	}

	e.pool = newWorkerPool[map[string]interface{}, *alert.Scored](
		ctx,
		cfg.Engine.Workers,
		cfg.Engine.QueueDepth,
		cfg.Engine.EventTimeout,
		e.score,
	)
	return e, nil
}

// Apply swaps in the hot-reloadable settings of cfg: combiner weights and
// thresholds, provider timeouts, the supervised provider, rules and the
// correlation window. Open incidents and baselines are kept.
func (e *Engine) Apply(cfg *config.Config) error {
	ruleSet, err := rules.Build(cfg)
	if err != nil {
		return fmt.Errorf("build rules: %w", err)
	}
	supervised, err := scoring.NewSupervised(cfg.Scoring.Supervised)
	if err != nil {
		return fmt.Errorf("build supervised provider: %w", err)
	}
	rt := &runtime{
		settings: priority.SettingsFrom(cfg.Scoring),
		composite: scoring.NewComposite(
			supervised,
			e.anomaly,
			scoring.NewRuleProvider(ruleSet),
			scoring.TimeoutsFrom(cfg.Scoring.Timeouts),
		),
		rules: ruleSet.Len(),
	}
	e.rt.Store(rt)
	e.correlator.SetWindow(cfg.Correlation.Window)
	slog.Info("engine configuration applied",
		"rules", rt.rules,
		"sigma_rules", ruleSet.Sigma().Len(),
		"window", cfg.Correlation.Window,
	)
	return nil
}

// OnBatch registers fn to receive every completed batch.
func (e *Engine) OnBatch(fn func(*BatchResult)) {
	e.mu.Lock()
	e.onBatch = append(e.onBatch, fn)
	e.mu.Unlock()
}

// Correlator returns the engine's correlator.
func (e *Engine) Correlator() *correlate.Correlator { return e.correlator }

// score is the worker function: everything up to and including the combiner.
func (e *Engine) score(ctx context.Context, raw map[string]interface{}) (*alert.Scored, error) {
	rt := e.rt.Load()
	a := e.normalizer.Normalize(raw)
	e.observe(a.Timestamp)
	fs := e.builder.Build(a)
	res := rt.composite.Score(ctx, fs)

	sa := &alert.Scored{Alert: *a}
	priority.Apply(rt.settings, sa, res)
	return sa, nil
}

func (e *Engine) observe(ts time.Time) {
	n := ts.UnixNano()
	for {
		cur := e.newest.Load()
		if n <= cur || e.newest.CompareAndSwap(cur, n) {
			return
		}
	}
}

// ProcessBatch scores and correlates raws. Elements that are not JSON objects
// are rejected individually; the batch as a whole fails only when it is too large.
func (e *Engine) ProcessBatch(ctx context.Context, raws []interface{}) (*BatchResult, error) {
	if len(raws) > e.conf.MaxBatch {
		return nil, fmt.Errorf("%w: %d alerts, limit %d", ErrBatchTooLarge, len(raws), e.conf.MaxBatch)
	}
	start := time.Now()
	res := &BatchResult{
		BatchID:      uuid.NewString(),
		ScoredAlerts: make([]*alert.Scored, 0, len(raws)),
		Incidents:    make([]correlate.Snapshot, 0),
		Results:      make([]AlertResult, len(raws)),
	}

	pending := make([]chan jobResult[*alert.Scored], len(raws))
	e.stopMu.RLock()
	for i, raw := range raws {
		res.Results[i] = AlertResult{Index: i}
		obj, ok := raw.(map[string]interface{})
		if !ok {
			e.reject(res, i, "element is not a JSON object")
			continue
		}
		if e.stopped {
			e.retry(res, i, "engine is shutting down")
			continue
		}
		ch := make(chan jobResult[*alert.Scored], 1)
		if !e.pool.Submit(ctx, obj, ch) {
			e.retry(res, i, fmt.Sprintf("scoring queue full (capacity %d)", e.pool.QueueCap()))
			continue
		}
		pending[i] = ch
	}
	e.stopMu.RUnlock()
	metrics.QueueUtilization.Set(e.QueueUtilization())

	incidentPos := make(map[string]int)
	for i, ch := range pending {
		if ch == nil {
			continue
		}
		var out jobResult[*alert.Scored]
		select {
		case out = <-ch:
		case <-ctx.Done():
			out.err = fmt.Errorf("scoring did not finish: %w", ctx.Err())
		case <-e.pool.Stopped():
			out.err = fmt.Errorf("scoring did not finish: %w", context.Canceled)
		}
		switch {
		case out.err == nil:
		case errors.Is(out.err, context.Canceled), errors.Is(out.err, context.DeadlineExceeded):
			e.retry(res, i, out.err.Error())
			continue
		default:
			e.reject(res, i, out.err.Error())
			continue
		}

		sa := out.value
		res.Results[i].AlertID = sa.ID
		snap, outcome, err := e.correlator.Ingest(ctx, sa)
		if err != nil {
			e.reject(res, i, err.Error())
			continue
		}
		res.Results[i].IncidentID = snap.ID
		if pos, ok := incidentPos[snap.ID]; ok {
			res.Incidents[pos] = snap
		} else {
			incidentPos[snap.ID] = len(res.Incidents)
			res.Incidents = append(res.Incidents, snap)
		}

		switch {
		case outcome == correlate.Duplicate:
			res.Results[i].Outcome = OutcomeDuplicate
		case len(sa.Degraded) > 0:
			res.Results[i].Outcome = OutcomeDegraded
			res.Results[i].Reason = "neutral value used for " + strings.Join(sa.Degraded, ", ")
		default:
			res.Results[i].Outcome = OutcomeScored
		}
		metrics.AlertsProcessed.WithLabelValues(res.Results[i].Outcome).Inc()
		if outcome != correlate.Duplicate {
			res.ScoredAlerts = append(res.ScoredAlerts, sa)
			metrics.AlertsByBucket.WithLabelValues(string(sa.PriorityBucket)).Inc()
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.BatchDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)

	e.mu.RLock()
	handlers := append([]func(*BatchResult){}, e.onBatch...)
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(res)
	}
	return res, nil
}

func (e *Engine) reject(res *BatchResult, i int, reason string) {
	res.Results[i].Outcome = OutcomeRejected
	res.Results[i].Reason = reason
	metrics.AlertsProcessed.WithLabelValues(OutcomeRejected).Inc()
}

func (e *Engine) retry(res *BatchResult, i int, reason string) {
	e.reject(res, i, reason)
	res.Results[i].Retry = true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// RuleCount returns the number of compiled predicate rules in use.
func (e *Engine) RuleCount() int { return e.rt.Load().rules }

// Maintain prunes the recurrence history and anomaly baselines every interval until ctx is cancelled.
func (e *Engine) Maintain(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.prune()
		}
	}
}

func (e *Engine) prune() {
	n := e.newest.Load()
	if n == 0 {
		return
	}
	newest := time.Unix(0, n)
	keys := e.builder.History().Prune(newest.Add(-e.historyWindow))
	baselines := e.anomaly.Prune(newest.Add(-e.anomalyWindow))
	if keys > 0 || baselines > 0 {
		slog.Debug("pruned scoring state", "history_keys", keys, "baselines", baselines)
	}
}

// Shutdown stops accepting work and drains the pool.
func (e *Engine) Shutdown() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	e.pool.Drain()
}
