// Package priority merges the three scoring signals into a priority score, bucket and explanation.
// Everything here is a pure function of its inputs.
package priority

import (
	"math"
	"sort"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/scoring"
)

// Thresholds are inclusive lower bounds, evaluated top-down.
type Thresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

// Settings parameterises Combine.
type Settings struct {
	SupervisedWeight float64 // w1
	AnomalyWeight    float64 // w2
	AnomalyScale     float64
	Thresholds       Thresholds
	TopFeatures      int
}

// DefaultSettings returns the built-in weights and thresholds.
func DefaultSettings() Settings {
	return Settings{
		SupervisedWeight: config.DefaultSupervisedWeight,
		AnomalyWeight:    config.DefaultAnomalyWeight,
		AnomalyScale:     config.DefaultAnomalyScale,
		Thresholds: Thresholds{
			Critical: config.DefaultCritical,
			High:     config.DefaultHigh,
			Medium:   config.DefaultMedium,
		},
		TopFeatures: config.DefaultTopFeatures,
	}
}

// SettingsFrom converts validated scoring configuration.
func SettingsFrom(cfg config.ScoringConf) Settings {
	return Settings{
		SupervisedWeight: cfg.Weights.Supervised,
		AnomalyWeight:    cfg.Weights.Anomaly,
		AnomalyScale:     cfg.AnomalyScale,
		Thresholds: Thresholds{
			Critical: cfg.Thresholds.Critical,
			High:     cfg.Thresholds.High,
			Medium:   cfg.Thresholds.Medium,
		},
		TopFeatures: cfg.TopFeatures,
	}
}

// Outcome is the combiner's output.
type Outcome struct {
	Score       float64
	Bucket      alert.Bucket
	TopFeatures []string
}

// NormalizeAnomaly maps an unbounded anomaly score into [0,1) with 1-exp(-a/scale).
// Non-positive or NaN inputs map to 0.
func NormalizeAnomaly(a, scale float64) float64 {
	if !(a > 0) {
		return 0
	}
	if scale <= 0 {
		scale = config.DefaultAnomalyScale
	}
	return 1 - math.Exp(-a/scale)
}

// BucketFor maps a score to its bucket. Ties resolve to the higher bucket.
func BucketFor(score float64, th Thresholds) alert.Bucket {
	switch {
	case score >= th.Critical:
		return alert.BucketCritical
	case score >= th.High:
		return alert.BucketHigh
	case score >= th.Medium:
		return alert.BucketMedium
	}
	return alert.BucketLow
}

// Score computes clamp(w1·p + w2·normalize(a) + boost, 0, 1).
func Score(s Settings, supervisedProb, anomalyScore, ruleBoost float64) float64 {
	v := s.SupervisedWeight*supervisedProb + s.AnomalyWeight*NormalizeAnomaly(anomalyScore, s.AnomalyScale) + ruleBoost
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// Combine produces the score, bucket and top features for one scoring result.
func Combine(s Settings, r scoring.Result) Outcome {
	score := Score(s, r.SupervisedProb, r.AnomalyScore, r.RuleBoost)
	return Outcome{
		Score:       score,
		Bucket:      BucketFor(score, s.Thresholds),
		TopFeatures: TopFeatures(s, r),
	}
}

// TopFeatures ranks attributions by their effect on the score, largest
// absolute value first, ties broken by name. Supervised attributions are
// scaled by w1; the anomaly term w2·normalize(a) is shared among its
// components in proportion to their raw values; rule weights count as-is.
// Contributions with the same name are summed, and zeros are dropped.
func TopFeatures(s Settings, r scoring.Result) []string {
	if s.TopFeatures <= 0 {
		return []string{}
	}
	merged := make(map[string]float64)
	for _, c := range r.Supervised {
		merged[c.Name] += s.SupervisedWeight * c.Value
	}
	var anomalyTotal float64
	for _, c := range r.Anomaly {
		if c.Value > 0 {
			anomalyTotal += c.Value
		}
	}
	if anomalyTotal > 0 {
		term := s.AnomalyWeight * NormalizeAnomaly(r.AnomalyScore, s.AnomalyScale)
		for _, c := range r.Anomaly {
			if c.Value > 0 {
				merged[c.Name] += term * c.Value / anomalyTotal
			}
		}
	}
	for _, c := range r.Rules {
		merged[c.Name] += c.Value
	}

	type ranked struct {
		name string
		mag  float64
	}
	list := make([]ranked, 0, len(merged))
	for name, v := range merged {
		if v == 0 || math.IsNaN(v) {
			continue
		}
		list = append(list, ranked{name, math.Abs(v)})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].mag != list[j].mag {
			return list[i].mag > list[j].mag
		}
		return list[i].name < list[j].name
	})
	if len(list) > s.TopFeatures {
		list = list[:s.TopFeatures]
	}
	out := make([]string, len(list))
	for i, f := range list {
		out[i] = f.name
	}
	return out
}

// Apply fills the scoring fields of sa from r.
func Apply(s Settings, sa *alert.Scored, r scoring.Result) {
	o := Combine(s, r)
	sa.SupervisedProb = r.SupervisedProb
	sa.AnomalyScore = r.AnomalyScore
	sa.RuleBoost = r.RuleBoost
	sa.PriorityScore = o.Score
	sa.PriorityBucket = o.Bucket
	sa.TopFeatures = o.TopFeatures
	sa.Degraded = r.Degraded
}
