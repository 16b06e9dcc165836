// Package features derives the fixed-shape feature set that scoring providers consume.
package features

import (
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
)

// Feature names shared by the vector, rule expressions and supervised weights.
const (
	Hour                = "hour"
	Weekday             = "weekday"
	IsNight             = "is_night"
	IsWeekend           = "is_weekend"
	SeverityLevel       = "severity_level"
	EventTypeBucket     = "event_type_bucket"
	KnownEntities       = "known_entities"
	EventTypeRecurrence = "event_type_recurrence"
	recurrencePrefix    = "recurrence_"
)

// RecurrenceName is the feature name for the recurrence count of an entity kind.
func RecurrenceName(kind string) string { return recurrencePrefix + kind }

// Feature is one named numeric component of a Set.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Set is the sole input of scoring providers. It carries the canonical alert
// fields and derived features but never the raw payload.
type Set struct {
	AlertID   string            `json:"alert_id"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Severity  alert.Severity    `json:"severity"`
	EventType string            `json:"event_type"`
	Entities  map[string]string `json:"entities"`

	Hour                int            `json:"hour"`
	Weekday             int            `json:"weekday"`
	Night               bool           `json:"is_night"`
	Weekend             bool           `json:"is_weekend"`
	SeverityLevel       int            `json:"severity_level"`
	EventTypeBucket     int            `json:"event_type_bucket"`
	KnownEntities       int            `json:"known_entities"`
	EventTypeRecurrence int            `json:"event_type_recurrence"`
	Recurrence          map[string]int `json:"recurrence"`

	// Replay marks a re-ingest of an alert already seen; stateful scorers skip recording it.
	Replay bool `json:"-"`

	kinds []string
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Vector returns the numeric features in a fixed order: the scalar features,
// then one recurrence count per configured entity kind.
func (s *Set) Vector() []Feature {
	v := []Feature{
		{Hour, float64(s.Hour)},
		{Weekday, float64(s.Weekday)},
		{IsNight, boolf(s.Night)},
		{IsWeekend, boolf(s.Weekend)},
		{SeverityLevel, float64(s.SeverityLevel)},
		{EventTypeBucket, float64(s.EventTypeBucket)},
		{KnownEntities, float64(s.KnownEntities)},
		{EventTypeRecurrence, float64(s.EventTypeRecurrence)},
	}
	for _, k := range s.kinds {
		v = append(v, Feature{RecurrenceName(k), float64(s.Recurrence[k])})
	}
	return v
}

// Value looks up a numeric feature by name.
func (s *Set) Value(name string) (float64, bool) {
	for _, f := range s.Vector() {
		if f.Name == name {
			return f.Value, true
		}
	}
	return 0, false
}

// Resolve implements condition.EvalContext. Recognised paths:
//
//	alert_id, source, severity, event_type (optionally prefixed with "alert.")
//	entities.<kind>
//	features.<name>, or a bare feature name
func (s *Set) Resolve(path []string) (interface{}, bool) {
	if len(path) == 0 {
		return nil, false
	}
	head, rest := path[0], path[1:]
	switch head {
	case "alert":
		if len(rest) != 1 {
			return nil, false
		}
		return s.canonical(rest[0])
	case "entities":
		if len(rest) != 1 {
			return nil, false
		}
		v, ok := s.Entities[rest[0]]
		return v, ok
	case "features":
		if len(rest) != 1 {
			return nil, false
		}
		return s.feature(rest[0])
	}
	if len(rest) != 0 {
		return nil, false
	}
	if v, ok := s.canonical(head); ok {
		return v, true
	}
	return s.feature(head)
}

func (s *Set) canonical(name string) (interface{}, bool) {
	switch name {
	case "alert_id", "id":
		return s.AlertID, true
	case "source":
		return s.Source, true
	case "severity":
		return string(s.Severity), true
	case "event_type":
		return s.EventType, true
	}
	return nil, false
}

func (s *Set) feature(name string) (interface{}, bool) {
	switch name {
	case IsNight:
		return s.Night, true
	case IsWeekend:
		return s.Weekend, true
	}
	v, ok := s.Value(name)
	if !ok {
		return nil, false
	}
	return v, true
}

// Fields flattens the set into a single-level map, used by Sigma rule evaluation.
func (s *Set) Fields() map[string]interface{} {
	m := map[string]interface{}{
		"alert_id":   s.AlertID,
		"source":     s.Source,
		"severity":   string(s.Severity),
		"event_type": s.EventType,
		IsNight:      s.Night,
		IsWeekend:    s.Weekend,
	}
	for k, v := range s.Entities {
		m[k] = v
	}
	for _, f := range s.Vector() {
		if _, taken := m[f.Name]; !taken {
			m[f.Name] = f.Value
		}
	}
	return m
}
