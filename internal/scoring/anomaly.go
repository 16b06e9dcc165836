package scoring

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/features"
)

// AnomalySettings configures the rolling baseline.
type AnomalySettings struct {
	Window     time.Duration // samples older than the newest sample minus Window are dropped
	MinSamples int           // below this the baseline is sparse and the score is neutral
	MaxSamples int           // per event type
}

// AnomalyModel scores an alert against a per-event-type baseline built from
// the alerts seen before it. Two components are summed:
//
//	rate: positive z-score of event_type_recurrence against the baseline
//	hour: rarity of the alert's hour of day, -log2(p(hour)·24) floored at 0
//
// Baselines are keyed by event time, so replaying old alerts behaves the same as live traffic.
type AnomalyModel struct {
	s AnomalySettings

	mu        sync.RWMutex
	baselines map[string]*baseline
}

type sample struct {
	value float64
	hour  int
	ts    time.Time
}

type baseline struct {
	mu      sync.Mutex
	samples []sample
	newest  time.Time
}

// NewAnomalyModel creates an empty model.
func NewAnomalyModel(s AnomalySettings) *AnomalyModel {
	if s.Window <= 0 {
		s.Window = 24 * time.Hour
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 20
	}
	if s.MaxSamples < s.MinSamples {
		s.MaxSamples = s.MinSamples
	}
	return &AnomalyModel{s: s, baselines: make(map[string]*baseline)}
}

// Name implements Provider.
func (m *AnomalyModel) Name() string { return Anomaly }

// Score implements Provider. The alert is recorded into the baseline after scoring.
func (m *AnomalyModel) Score(ctx context.Context, fs *features.Set) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	b := m.baseline(strings.ToLower(fs.EventType))
	x := float64(fs.EventTypeRecurrence)

	b.mu.Lock()
	defer b.mu.Unlock()

	var sig Signal
	if n := len(b.samples); n >= m.s.MinSamples {
		mean, std := meanStd(b.samples)
		rate := math.Max(0, (x-mean)/math.Max(std, 1))

		sameHour := 0
		for _, s := range b.samples {
			if s.hour == fs.Hour {
				sameHour++
			}
		}
		p := float64(sameHour+1) / float64(n+24)
		rarity := math.Max(0, -math.Log2(p*24))

		sig.Value = rate + rarity
		if rate > 0 {
			sig.Contributions = append(sig.Contributions, Contribution{Name: features.EventTypeRecurrence, Value: rate})
		}
		if rarity > 0 {
			sig.Contributions = append(sig.Contributions, Contribution{Name: features.Hour, Value: rarity})
		}
	}
	if !fs.Replay {
		b.record(sample{value: x, hour: fs.Hour, ts: fs.Timestamp}, m.s)
	}
	return sig, nil
}

func (m *AnomalyModel) baseline(key string) *baseline {
	m.mu.RLock()
	b, ok := m.baselines[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.baselines[key]; !ok {
		b = &baseline{}
		m.baselines[key] = b
	}
	return b
}

// record appends s and trims by age and count. Caller holds b.mu.
func (b *baseline) record(s sample, cfg AnomalySettings) {
	b.samples = append(b.samples, s)
	if s.ts.After(b.newest) {
		b.newest = s.ts
	}
	cutoff := b.newest.Add(-cfg.Window)
	kept := b.samples[:0]
	for _, x := range b.samples {
		if !x.ts.Before(cutoff) {
			kept = append(kept, x)
		}
	}
	if over := len(kept) - cfg.MaxSamples; over > 0 {
		kept = append(kept[:0], kept[over:]...)
	}
	b.samples = kept
}

func meanStd(samples []sample) (float64, float64) {
	var sum float64
	for _, s := range samples {
		sum += s.value
	}
	mean := sum / float64(len(samples))
	var variance float64
	for _, s := range samples {
		d := s.value - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(samples)))
}

// Prune drops baselines whose newest sample is older than cutoff. Returns the number removed.
func (m *AnomalyModel) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, b := range m.baselines {
		b.mu.Lock()
		stale := b.newest.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(m.baselines, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked event types.
func (m *AnomalyModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.baselines)
}
