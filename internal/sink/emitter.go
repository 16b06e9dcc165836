package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
	"github.com/gyaneshwarpardhi/aria/internal/metrics"
)

// EmitterSettings configures batching.
type EmitterSettings struct {
	BatchSize     int
	FlushInterval time.Duration
	Buffer        int
	MaxAttempts   int
	RetryDelay    time.Duration
}

type record struct {
	alert    *alert.Scored
	incident *correlate.Snapshot
}

// Emitter buffers records and writes them to every registered sink in
// batches, off the request path. When the buffer is full records are dropped.
type Emitter struct {
	reg  *Registry
	s    EmitterSettings
	in   chan record
	done chan struct{}
}

// NewEmitter creates an Emitter over reg. Call Run to start it.
func NewEmitter(reg *Registry, s EmitterSettings) *Emitter {
	if s.BatchSize <= 0 {
		s.BatchSize = 200
	}
	if s.FlushInterval <= 0 {
		s.FlushInterval = 2 * time.Second
	}
	if s.Buffer <= 0 {
		s.Buffer = 10000
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = time.Second
	}
	return &Emitter{reg: reg, s: s, in: make(chan record, s.Buffer), done: make(chan struct{})}
}

// EmitAlerts queues scored alerts.
func (e *Emitter) EmitAlerts(alerts []*alert.Scored) {
	for _, a := range alerts {
		e.push(record{alert: a})
	}
}

// EmitIncident queues a closed incident.
func (e *Emitter) EmitIncident(s correlate.Snapshot) {
	e.push(record{incident: &s})
}

func (e *Emitter) push(r record) {
	select {
	case e.in <- r:
	default:
		metrics.SinkDropped.Inc()
	}
}

// Run writes batches until ctx is cancelled, then flushes what is buffered.
func (e *Emitter) Run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.s.FlushInterval)
	defer ticker.Stop()

	var (
		alerts    []*alert.Scored
		incidents []correlate.Snapshot
	)
	flush := func(ctx context.Context) {
		if len(alerts) == 0 && len(incidents) == 0 {
			return
		}
		for _, w := range e.reg.all() {
			if len(alerts) > 0 {
				e.write(ctx, w, "alerts", len(alerts), func(ctx context.Context) error { return w.WriteAlerts(ctx, alerts) })
			}
			if len(incidents) > 0 {
				e.write(ctx, w, "incidents", len(incidents), func(ctx context.Context) error { return w.WriteIncidents(ctx, incidents) })
			}
		}
		alerts, incidents = nil, nil
	}
	add := func(r record) {
		if r.alert != nil {
			alerts = append(alerts, r.alert)
		}
		if r.incident != nil {
			incidents = append(incidents, *r.incident)
		}
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case r := <-e.in:
					add(r)
				default:
					break drain
				}
			}
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			flush(fctx)
			cancel()
			return
		case r := <-e.in:
			add(r)
			if len(alerts)+len(incidents) >= e.s.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Wait blocks until Run has returned.
func (e *Emitter) Wait() { <-e.done }

func (e *Emitter) write(ctx context.Context, w Writer, kind string, n int, fn func(context.Context) error) {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			metrics.SinkWrites.WithLabelValues(w.Name(), kind, "success").Add(float64(n))
			return
		}
		slog.Warn("sink write failed",
			"sink", w.Name(),
			"kind", kind,
			"attempt", attempt,
			"max_attempts", e.s.MaxAttempts,
			"err", err,
		)
		if attempt >= e.s.MaxAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.s.RetryDelay * time.Duration(attempt)):
		}
	}
	metrics.SinkWrites.WithLabelValues(w.Name(), kind, "error").Add(float64(n))
	slog.Error("sink write dropped", "sink", w.Name(), "kind", kind, "records", n, "err", err)
}
