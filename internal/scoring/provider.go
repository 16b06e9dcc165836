// Package scoring defines the provider contract and the three signal providers.
package scoring

import (
	"context"

	"github.com/gyaneshwarpardhi/aria/internal/features"
)

// Provider names, also used in degraded reports and metric labels.
const (
	Supervised = "supervised"
	Anomaly    = "anomaly"
	Rules      = "rules"
)

// Neutral values substituted when a provider fails or times out.
const (
	NeutralProbability = 0.5
	NeutralAnomaly     = 0.0
	NeutralBoost       = 0.0
)

// Contribution attributes part of a signal to a named feature or rule.
type Contribution struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Signal is one provider's output.
type Signal struct {
	Value         float64
	Contributions []Contribution
}

// Provider computes one signal from a feature set. Implementations must honour ctx.
type Provider interface {
	Name() string
	Score(ctx context.Context, fs *features.Set) (Signal, error)
}

// Func adapts a plain function to a Provider.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, fs *features.Set) (Signal, error)
}

// Name returns ProviderName.
func (f Func) Name() string { return f.ProviderName }

// Score calls Fn.
func (f Func) Score(ctx context.Context, fs *features.Set) (Signal, error) { return f.Fn(ctx, fs) }
