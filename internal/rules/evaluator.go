package rules

import (
	"context"
	"fmt"

	"github.com/gyaneshwarpardhi/aria/internal/features"
)

// Match records one fired rule.
type Match struct {
	Name   string // "rule:<id>" or "sigma:<id>"
	Weight float64
}

// Result is the outcome of evaluating a Set.
type Result struct {
	Boost   float64
	Matches []Match
	Errors  []error
}

// Evaluate runs every rule against s. Rules are independent: each match adds
// its weight, and a rule that errors (e.g. references a missing field) is
// skipped and reported in Errors without affecting the others.
func (set *Set) Evaluate(ctx context.Context, s *features.Set) Result {
	var res Result
	for _, r := range set.rules {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, err)
			return res
		}
		ok, err := r.Match(s)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("rule %s: %w", r.id, err))
			continue
		}
		if ok {
			res.Boost += r.weight
			res.Matches = append(res.Matches, Match{Name: "rule:" + r.id, Weight: r.weight})
		}
	}
	if set.sigma != nil {
		for _, m := range set.sigma.Apply(ctx, s.Fields()) {
			res.Boost += m.Weight
			res.Matches = append(res.Matches, m)
		}
	}
	return res
}
