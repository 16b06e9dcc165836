package scoring

import (
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/features"
)

// DefaultBias and DefaultWeights parameterise the built-in logistic model
// used when the configuration supplies neither an endpoint nor weights.
var (
	DefaultBias    = -2.5
	DefaultWeights = map[string]float64{
		features.SeverityLevel:          0.55,
		features.IsNight:                0.8,
		features.IsWeekend:              0.4,
		features.KnownEntities:          0.15,
		features.EventTypeRecurrence:    0.04,
		features.RecurrenceName("ip"):   0.08,
		features.RecurrenceName("user"): 0.08,
	}
)

// NewSupervised builds the supervised provider described by cfg.
func NewSupervised(cfg config.SupervisedConf) (Provider, error) {
	if cfg.Endpoint != "" {
		return NewHTTPModel(cfg.Endpoint, cfg.Headers)
	}
	if len(cfg.Weights) == 0 {
		return NewLogisticModel(DefaultBias, DefaultWeights), nil
	}
	return NewLogisticModel(cfg.Bias, cfg.Weights), nil
}

// TimeoutsFrom converts configured timeouts.
func TimeoutsFrom(cfg config.TimeoutsConf) Timeouts {
	return Timeouts{Supervised: cfg.Supervised, Anomaly: cfg.Anomaly, Rules: cfg.Rules}
}

// AnomalySettingsFrom converts the configured baseline settings.
func AnomalySettingsFrom(cfg config.AnomalyConf) AnomalySettings {
	return AnomalySettings{Window: cfg.BaselineWindow, MinSamples: cfg.MinSamples, MaxSamples: cfg.MaxSamples}
}
