// Package normalize maps heterogeneous raw event payloads onto alert.Alert.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
)

// DefaultSource is used when a payload carries no source field.
const DefaultSource = "splunk"

// EntityRule extracts one entity kind from the first present field in Fields.
// Field names may be dotted paths into nested objects.
type EntityRule struct {
	Kind   string
	Fields []string
}

// BuiltinEntities are always extracted.
var BuiltinEntities = []EntityRule{
	{Kind: "ip", Fields: []string{"src_ip", "ip"}},
	{Kind: "user", Fields: []string{"user", "username"}},
}

// Normalizer turns raw payloads into alerts. It never fails and never mutates its input.
type Normalizer struct {
	defaultSource string
	rules         []EntityRule
	now           func() time.Time
}

// New creates a Normalizer. Extra rules for a built-in kind extend its field list.
func New(defaultSource string, extra []EntityRule) *Normalizer {
	if defaultSource == "" {
		defaultSource = DefaultSource
	}
	rules := make([]EntityRule, 0, len(BuiltinEntities)+len(extra))
	byKind := make(map[string]int)
	for _, r := range append(append([]EntityRule{}, BuiltinEntities...), extra...) {
		if i, ok := byKind[r.Kind]; ok {
			rules[i].Fields = append(append([]string{}, rules[i].Fields...), r.Fields...)
			continue
		}
		byKind[r.Kind] = len(rules)
		rules = append(rules, EntityRule{Kind: r.Kind, Fields: append([]string{}, r.Fields...)})
	}
	return &Normalizer{defaultSource: defaultSource, rules: rules, now: time.Now}
}

// Kinds lists every entity kind the normalizer populates.
func (n *Normalizer) Kinds() []string {
	out := make([]string, len(n.rules))
	for i, r := range n.rules {
		out[i] = r.Kind
	}
	return out
}

// Normalize builds a best-effort Alert. Missing or malformed fields fall back to defaults.
func (n *Normalizer) Normalize(raw map[string]interface{}) *alert.Alert {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	a := &alert.Alert{
		ID:        alert.Unknown,
		Source:    n.defaultSource,
		Severity:  alert.SeverityMedium,
		EventType: alert.Unknown,
		Entities:  make(map[string]string, len(n.rules)),
		Raw:       raw,
	}

	if v, ok := firstString(raw, "id", "_id"); ok {
		a.ID = v
	}
	if ts, ok := firstTimestamp(raw, "timestamp", "@timestamp"); ok {
		a.Timestamp = ts
	} else {
		a.Timestamp = n.now().UTC()
	}
	if v, ok := firstString(raw, "source"); ok {
		a.Source = v
	}
	if v, ok := firstString(raw, "severity"); ok {
		switch s := alert.Severity(strings.ToLower(v)); s {
		case alert.SeverityLow, alert.SeverityMedium, alert.SeverityHigh, alert.SeverityCritical:
			a.Severity = s
		}
	}
	if v, ok := firstString(raw, "event_type", "sourcetype"); ok {
		a.EventType = v
	}

	for _, r := range n.rules {
		a.Entities[r.Kind] = alert.Unknown
		if v, ok := firstString(raw, r.Fields...); ok {
			a.Entities[r.Kind] = v
		}
	}
	return a
}

func lookup(raw map[string]interface{}, field string) (interface{}, bool) {
	if v, ok := raw[field]; ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	var cur interface{} = raw
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// firstString returns the first field that holds a non-empty scalar, stringified.
func firstString(raw map[string]interface{}, fields ...string) (string, bool) {
	for _, f := range fields {
		v, ok := lookup(raw, f)
		if !ok {
			continue
		}
		if s, ok := scalarString(v); ok {
			return s, true
		}
	}
	return "", false
}

func scalarString(v interface{}) (string, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		s = x.String()
	case int, int64, int32, bool:
		s = fmt.Sprint(x)
	default:
		return "", false
	}
	return s, s != ""
}

var layouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
}

func firstTimestamp(raw map[string]interface{}, fields ...string) (time.Time, bool) {
	for _, f := range fields {
		v, ok := lookup(raw, f)
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		// first non-empty field decides; a bad value falls back to ingestion time
		return ParseTimestamp(v)
	}
	return time.Time{}, false
}

// ParseTimestamp accepts ISO-8601-like strings and epoch seconds or milliseconds.
// A trailing Z designator and zone-less values are read as UTC.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		return parseISO(x)
	case float64:
		return fromEpoch(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case int64:
		return fromEpoch(float64(x))
	case int:
		return fromEpoch(float64(x))
	}
	return time.Time{}, false
}

func parseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		s = s[:len(s)-1]
	} else {
		for _, l := range zonedLayouts {
			if t, err := time.Parse(l, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
