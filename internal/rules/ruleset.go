// Package rules compiles weighted predicates and Sigma detections and evaluates them against feature sets.
package rules

import (
	"strings"

	"github.com/gyaneshwarpardhi/aria/internal/condition"
	"github.com/gyaneshwarpardhi/aria/internal/features"
)

// Rule is a compiled predicate with its boost weight.
type Rule struct {
	id         string
	weight     float64
	eventTypes map[string]struct{} // empty = all event types
	sources    map[string]struct{} // empty = all sources
	expr       condition.Expr      // compiled once at build time
}

// NewRule compiles a rule scoped to the given event types and sources.
func NewRule(id string, weight float64, expr condition.Expr, eventTypes, sources []string) *Rule {
	return &Rule{
		id:         id,
		weight:     weight,
		eventTypes: lowerSet(eventTypes),
		sources:    lowerSet(sources),
		expr:       expr,
	}
}

func lowerSet(vals []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[strings.ToLower(v)] = struct{}{}
	}
	return m
}

// ID returns the rule identifier.
func (r *Rule) ID() string { return r.id }

// Weight returns the boost added when the rule fires.
func (r *Rule) Weight() float64 { return r.weight }

// inScope reports whether the rule applies to the alert's event type and source.
func (r *Rule) inScope(s *features.Set) bool {
	if len(r.eventTypes) > 0 {
		if _, ok := r.eventTypes[strings.ToLower(s.EventType)]; !ok {
			return false
		}
	}
	if len(r.sources) > 0 {
		if _, ok := r.sources[strings.ToLower(s.Source)]; !ok {
			return false
		}
	}
	return true
}

// Match reports whether the rule fires for s.
func (r *Rule) Match(s *features.Set) (bool, error) {
	if !r.inScope(s) {
		return false, nil
	}
	return condition.Evaluate(r.expr, s)
}

// Set is an immutable collection of compiled rules. Hot reload builds a new Set.
type Set struct {
	rules []*Rule
	sigma *SigmaSet
}

// NewSet creates a Set. sigma may be nil.
func NewSet(rules []*Rule, sigma *SigmaSet) *Set {
	return &Set{rules: rules, sigma: sigma}
}

// Len returns the number of predicate rules.
func (s *Set) Len() int { return len(s.rules) }

// Sigma returns the Sigma detections, possibly nil.
func (s *Set) Sigma() *SigmaSet { return s.sigma }
