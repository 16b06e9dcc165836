package config

import "time"

// Default values applied to zero-valued fields after parsing.
const (
	DefaultSupervisedWeight = 0.6
	DefaultAnomalyWeight    = 0.3
	DefaultAnomalyScale     = 3.0
	DefaultCritical         = 0.85
	DefaultHigh             = 0.6
	DefaultMedium           = 0.35
	DefaultTopFeatures      = 5
	DefaultWindow           = 30 * time.Minute
)

// DefaultLevelWeights maps Sigma rule levels to boost weights.
var DefaultLevelWeights = map[string]float64{
	"informational": 0.0,
	"low":           0.05,
	"medium":        0.1,
	"high":          0.2,
	"critical":      0.3,
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

// ApplyDefaults fills unset fields. Scoring weights are defaulted only when both are zero.
func ApplyDefaults(cfg *Config) {
	e := &cfg.Engine
	setInt(&e.Workers, 16)
	setInt(&e.QueueDepth, 10000)
	setInt(&e.MaxBatch, 1000)
	setDuration(&e.EventTimeout, 5*time.Second)

	f := &cfg.Features
	setDuration(&f.HistoryWindow, 10*time.Minute)
	setInt(&f.HistoryMaxKeep, 1024)
	setInt(&f.EventTypeBuckets, 32)
	if f.NightStartHour == 0 && f.NightEndHour == 0 {
		f.NightStartHour, f.NightEndHour = 22, 6
	}

	s := &cfg.Scoring
	if s.Weights.Supervised == 0 && s.Weights.Anomaly == 0 {
		s.Weights = WeightsConf{Supervised: DefaultSupervisedWeight, Anomaly: DefaultAnomalyWeight}
	}
	setFloat(&s.AnomalyScale, DefaultAnomalyScale)
	setFloat(&s.Thresholds.Critical, DefaultCritical)
	setFloat(&s.Thresholds.High, DefaultHigh)
	setFloat(&s.Thresholds.Medium, DefaultMedium)
	setInt(&s.TopFeatures, DefaultTopFeatures)
	setDuration(&s.Timeouts.Supervised, 250*time.Millisecond)
	setDuration(&s.Timeouts.Anomaly, 100*time.Millisecond)
	setDuration(&s.Timeouts.Rules, 100*time.Millisecond)
	setDuration(&s.Anomaly.BaselineWindow, 24*time.Hour)
	setInt(&s.Anomaly.MinSamples, 20)
	setInt(&s.Anomaly.MaxSamples, 5000)

	c := &cfg.Correlation
	setDuration(&c.Window, DefaultWindow)
	setDuration(&c.SweepInterval, 30*time.Second)
	setInt(&c.Shards, 64)
	setInt(&c.RetainClosed, 1000)

	if cfg.Sigma.LevelWeights == nil {
		cfg.Sigma.LevelWeights = make(map[string]float64, len(DefaultLevelWeights))
		for k, v := range DefaultLevelWeights {
			cfg.Sigma.LevelWeights[k] = v
		}
	}

	h := &cfg.History
	if h.Backend == "" {
		h.Backend = "memory"
	}
	setInt(&h.Capacity, 5000)
	if h.Redis.Key == "" {
		h.Redis.Key = "aria:scored_alerts"
	}

	sk := &cfg.Sinks
	setInt(&sk.BatchSize, 200)
	setDuration(&sk.FlushInterval, 2*time.Second)
	setInt(&sk.Buffer, 10000)
	setDuration(&sk.HTTP.Timeout, 5*time.Second)
	if sk.ClickHouse.Database == "" {
		sk.ClickHouse.Database = "default"
	}
	if sk.ClickHouse.AlertsTable == "" {
		sk.ClickHouse.AlertsTable = "scored_alerts"
	}
	if sk.ClickHouse.IncidentsTable == "" {
		sk.ClickHouse.IncidentsTable = "incidents"
	}
	setDuration(&sk.ClickHouse.DialTimeout, 10*time.Second)

	src := &cfg.Sources
	setInt(&src.Redis.BatchSize, 100)
	setDuration(&src.Redis.FlushInterval, time.Second)
	setDuration(&src.Redis.BlockTimeout, 5*time.Second)
	if src.Redis.Key == "" {
		src.Redis.Key = "aria:raw_alerts"
	}
	setInt(&src.Kafka.BatchSize, 100)
	setDuration(&src.Kafka.FlushInterval, time.Second)
	if src.Kafka.GroupID == "" {
		src.Kafka.GroupID = "aria"
	}
}
