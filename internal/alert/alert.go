package alert

import (
	"sort"
	"time"
)

// Unknown is the sentinel value for identifiers and entities that could not be extracted.
const Unknown = "unknown"

// Severity is the source-reported severity. It is advisory only.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Level maps a severity to 1..4, defaulting to medium.
func (s Severity) Level() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 2
}

// Alert is the canonical form of one security event.
type Alert struct {
	ID        string                 `json:"alert_id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Severity  Severity               `json:"severity"`
	EventType string                 `json:"event_type"`
	Entities  map[string]string      `json:"entities"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

// Entity is one (kind, value) pair extracted from an alert.
type Entity struct {
	Kind  string
	Value string
}

// Key is the index key for the entity.
func (e Entity) Key() string { return e.Kind + "=" + e.Value }

// KnownEntities returns the entities whose value is not the sentinel, ordered by kind.
func (a *Alert) KnownEntities() []Entity {
	out := make([]Entity, 0, len(a.Entities))
	for k, v := range a.Entities {
		if v == "" || v == Unknown {
			continue
		}
		out = append(out, Entity{Kind: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Scored is an Alert plus its scoring outputs.
type Scored struct {
	Alert
	SupervisedProb float64  `json:"supervised_prob"`
	AnomalyScore   float64  `json:"anomaly_score"`
	RuleBoost      float64  `json:"rule_boost"`
	PriorityScore  float64  `json:"priority_score"`
	PriorityBucket Bucket   `json:"priority_bucket"`
	TopFeatures    []string `json:"top_features"`
	Degraded       []string `json:"degraded,omitempty"`
}
