package rules

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"
	"gopkg.in/yaml.v3"
)

// SigmaStats counts loaded and skipped Sigma rule files.
type SigmaStats struct {
	Files          int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

type sigmaRule struct {
	name   string
	weight float64
	eval   *sigmaevaluator.RuleEvaluator
}

// SigmaSet evaluates single-event Sigma rules against flattened alert fields.
type SigmaSet struct {
	rules []sigmaRule
}

// LoadSigma loads Sigma rules from a file or directory. Each rule's level maps
// to a weight through levelWeights; unknown levels weigh as "medium".
// Aggregations, timeframes and keyword searches need cross-event state and are skipped.
func LoadSigma(path string, levelWeights map[string]float64) (*SigmaSet, SigmaStats, error) {
	var stats SigmaStats
	files, err := yamlFiles(path)
	if err != nil {
		return nil, stats, err
	}
	stats.Files = len(files)

	set := &SigmaSet{rules: make([]sigmaRule, 0, len(files))}
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			stats.SkippedInvalid++
			slog.Warn("sigma rule unreadable", "file", f, "err", err)
			continue
		}
		if hasTimeframe(raw) {
			stats.SkippedComplex++
			slog.Debug("sigma rule skipped", "file", f, "reason", "timeframe")
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			stats.SkippedInvalid++
			slog.Warn("sigma rule invalid", "file", f, "err", err)
			continue
		}
		if reason := unsupported(rule); reason != "" {
			stats.SkippedComplex++
			slog.Debug("sigma rule skipped", "file", f, "reason", reason)
			continue
		}
		set.rules = append(set.rules, sigmaRule{
			name:   "sigma:" + ruleName(rule),
			weight: levelWeight(rule.Level, levelWeights),
			eval:   sigmaevaluator.ForRule(rule),
		})
		stats.Loaded++
	}
	return set, stats, nil
}

// Len returns the number of loaded rules.
func (s *SigmaSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Apply returns the matches of every rule against fields. Evaluation errors count as no match.
func (s *SigmaSet) Apply(ctx context.Context, fields map[string]interface{}) []Match {
	if s == nil {
		return nil
	}
	var out []Match
	for _, r := range s.rules {
		res, err := r.eval.Matches(ctx, fields)
		if err != nil {
			slog.Debug("sigma evaluation failed", "rule", r.name, "err", err)
			continue
		}
		if res.Match {
			out = append(out, Match{Name: r.name, Weight: r.weight})
		}
	}
	return out
}

func yamlFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sigma path: %w", err)
	}
	if !info.IsDir() {
		if !isYAML(path) {
			return nil, fmt.Errorf("sigma rule file must end with .yml or .yaml: %s", path)
		}
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && isYAML(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk sigma directory: %w", err)
	}
	return files, nil
}

func isYAML(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

// hasTimeframe reports whether the rule declares detection.timeframe. sigma-go
// cannot decode Sigma's duration strings such as "5m", so this is checked on
// the raw document.
func hasTimeframe(raw []byte) bool {
	var doc struct {
		Detection struct {
			Timeframe interface{} `yaml:"timeframe"`
		} `yaml:"detection"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return false
	}
	return doc.Detection.Timeframe != nil
}

func unsupported(rule sigma.Rule) string {
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return "aggregation"
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return "keyword search"
		}
	}
	return ""
}

func ruleName(rule sigma.Rule) string {
	if id := strings.TrimSpace(rule.ID); id != "" {
		return id
	}
	return strings.TrimSpace(rule.Title)
}

func levelWeight(level string, weights map[string]float64) float64 {
	level = strings.ToLower(strings.TrimSpace(level))
	if w, ok := weights[level]; ok {
		return w
	}
	return weights["medium"]
}
