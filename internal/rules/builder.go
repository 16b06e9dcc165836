package rules

import (
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/aria/internal/condition"
	"github.com/gyaneshwarpardhi/aria/internal/config"
)

// Build compiles the enabled rules of cfg and loads its Sigma rules.
// Expressions are parsed here; nothing is parsed at evaluation time.
func Build(cfg *config.Config) (*Set, error) {
	compiled := make([]*Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		if !r.IsEnabled() {
			continue
		}
		ast, err := condition.Parse(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %s: parse %q: %w", r.ID, r.Expression, err)
		}
		compiled = append(compiled, NewRule(r.ID, r.Weight, ast, r.EventTypes, r.Sources))
	}

	var sigmaSet *SigmaSet
	if cfg.Sigma.Path != "" {
		s, stats, err := LoadSigma(cfg.Sigma.Path, cfg.Sigma.LevelWeights)
		if err != nil {
			return nil, fmt.Errorf("sigma: %w", err)
		}
		slog.Info("sigma rules loaded",
			"loaded", stats.Loaded,
			"skipped_complex", stats.SkippedComplex,
			"skipped_invalid", stats.SkippedInvalid,
			"files", stats.Files,
		)
		sigmaSet = s
	}
	return NewSet(compiled, sigmaSet), nil
}
