package features

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
)

// Settings configures a Builder.
type Settings struct {
	Kinds            []string // entity kinds that get a recurrence feature
	HistoryWindow    time.Duration
	HistoryMaxKeep   int
	EventTypeBuckets int
	NightStartHour   int // inclusive
	NightEndHour     int // exclusive
}

// Builder turns alerts into feature sets and keeps the recurrence history.
type Builder struct {
	s       Settings
	kinds   []string
	history *History
}

// NewBuilder creates a Builder.
func NewBuilder(s Settings) *Builder {
	if s.HistoryWindow <= 0 {
		s.HistoryWindow = 10 * time.Minute
	}
	if s.EventTypeBuckets <= 0 {
		s.EventTypeBuckets = 32
	}
	if s.NightStartHour == 0 && s.NightEndHour == 0 {
		s.NightStartHour, s.NightEndHour = 22, 6
	}
	kinds := append([]string{}, s.Kinds...)
	sort.Strings(kinds)
	return &Builder{
		s:       s,
		kinds:   kinds,
		history: NewHistory(s.HistoryWindow, s.HistoryMaxKeep),
	}
}

// History exposes the recurrence tracker for pruning.
func (b *Builder) History() *History { return b.history }

// Build derives the feature set for a and records it in the recurrence history.
// A re-ingest of an alert already seen (same id and timestamp) is counted
// without being recorded again and comes back with Replay set.
func (b *Builder) Build(a *alert.Alert) *Set {
	ts := a.Timestamp.UTC()
	s := &Set{
		AlertID:         a.ID,
		Timestamp:       ts,
		Source:          a.Source,
		Severity:        a.Severity,
		EventType:       a.EventType,
		Entities:        make(map[string]string, len(a.Entities)),
		Hour:            ts.Hour(),
		Weekday:         int(ts.Weekday()),
		SeverityLevel:   a.Severity.Level(),
		EventTypeBucket: b.bucket(a.EventType),
		Recurrence:      make(map[string]int, len(b.kinds)),
		kinds:           b.kinds,
	}
	for k, v := range a.Entities {
		s.Entities[k] = v
	}
	s.Night = b.isNight(s.Hour)
	s.Weekend = ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday
	s.KnownEntities = len(a.KnownEntities())

	if a.ID != "" && a.ID != alert.Unknown {
		s.Replay = b.history.Observe("alert="+a.ID+"@"+strconv.FormatInt(ts.UnixNano(), 10), ts) > 0
	}
	observe := b.history.Observe
	if s.Replay {
		observe = b.history.Count
	}

	s.EventTypeRecurrence = observe("event_type="+strings.ToLower(a.EventType), ts)
	for _, k := range b.kinds {
		v := a.Entities[k]
		if v == "" || v == alert.Unknown {
			s.Recurrence[k] = 0
			continue
		}
		s.Recurrence[k] = observe(k+"="+v, ts)
	}
	return s
}

func (b *Builder) bucket(eventType string) int {
	return int(xxhash.Sum64String(strings.ToLower(eventType)) % uint64(b.s.EventTypeBuckets))
}

func (b *Builder) isNight(hour int) bool {
	start, end := b.s.NightStartHour, b.s.NightEndHour
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
