package scoring

import (
	"context"
	"log/slog"

	"github.com/gyaneshwarpardhi/aria/internal/features"
	"github.com/gyaneshwarpardhi/aria/internal/metrics"
	"github.com/gyaneshwarpardhi/aria/internal/rules"
)

// RuleProvider exposes a compiled rule set as the boost provider.
type RuleProvider struct {
	set *rules.Set
}

// NewRuleProvider wraps set. A nil set yields a zero boost.
func NewRuleProvider(set *rules.Set) *RuleProvider {
	return &RuleProvider{set: set}
}

// Name implements Provider.
func (p *RuleProvider) Name() string { return Rules }

// Score implements Provider. A rule that fails to evaluate is skipped, not fatal.
func (p *RuleProvider) Score(ctx context.Context, fs *features.Set) (Signal, error) {
	if p.set == nil {
		return Signal{}, ctx.Err()
	}
	res := p.set.Evaluate(ctx, fs)
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	for _, err := range res.Errors {
		metrics.RuleErrors.Inc()
		slog.Debug("rule skipped", "alert_id", fs.AlertID, "err", err)
	}
	sig := Signal{Value: res.Boost, Contributions: make([]Contribution, 0, len(res.Matches))}
	for _, m := range res.Matches {
		sig.Contributions = append(sig.Contributions, Contribution{Name: m.Name, Value: m.Weight})
	}
	return sig, nil
}
