package features

import (
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/condition"
)

func loginAlert(ip string, ts time.Time) *alert.Alert {
	return &alert.Alert{
		ID:        "a-1",
		Timestamp: ts,
		Source:    "splunk",
		Severity:  alert.SeverityHigh,
		EventType: "login_fail",
		Entities:  map[string]string{"ip": ip, "user": alert.Unknown},
	}
}

func TestBuild_TimeFeatures(t *testing.T) {
	b := NewBuilder(Settings{Kinds: []string{"ip", "user"}})
	// Saturday 02:15 UTC
	s := b.Build(loginAlert("1.2.3.4", time.Date(2024, 6, 1, 2, 15, 0, 0, time.UTC)))

	if s.Hour != 2 || !s.Night || !s.Weekend {
		t.Errorf("hour=%d night=%v weekend=%v", s.Hour, s.Night, s.Weekend)
	}
	if s.SeverityLevel != 3 {
		t.Errorf("severity level = %d", s.SeverityLevel)
	}
	if s.KnownEntities != 1 {
		t.Errorf("known entities = %d", s.KnownEntities)
	}
	if s.EventTypeBucket < 0 || s.EventTypeBucket >= 32 {
		t.Errorf("bucket out of range: %d", s.EventTypeBucket)
	}
}

func TestBuild_VectorShapeIsFixed(t *testing.T) {
	b := NewBuilder(Settings{Kinds: []string{"user", "ip"}})
	ts := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	v1 := b.Build(loginAlert("1.2.3.4", ts)).Vector()
	v2 := b.Build(&alert.Alert{ID: "x", Timestamp: ts, Entities: map[string]string{}}).Vector()
	if len(v1) != len(v2) {
		t.Fatalf("vector length differs: %d vs %d", len(v1), len(v2))
	}
	for i := range v1 {
		if v1[i].Name != v2[i].Name {
			t.Errorf("position %d: %s vs %s", i, v1[i].Name, v2[i].Name)
		}
	}
	if last := v1[len(v1)-1].Name; last != RecurrenceName("user") {
		t.Errorf("recurrence features should be sorted by kind, last = %s", last)
	}
}

func TestBuild_Recurrence(t *testing.T) {
	b := NewBuilder(Settings{Kinds: []string{"ip"}, HistoryWindow: 10 * time.Minute})
	t0 := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	if got := b.Build(loginAlert("1.2.3.4", t0)).Recurrence["ip"]; got != 0 {
		t.Errorf("first sighting recurrence = %d", got)
	}
	if got := b.Build(loginAlert("1.2.3.4", t0.Add(time.Minute))).Recurrence["ip"]; got != 1 {
		t.Errorf("second sighting recurrence = %d", got)
	}
	s := b.Build(loginAlert("1.2.3.4", t0.Add(2*time.Minute)))
	if s.Recurrence["ip"] != 2 || s.EventTypeRecurrence != 2 {
		t.Errorf("third sighting: ip=%d event_type=%d", s.Recurrence["ip"], s.EventTypeRecurrence)
	}
	if got := b.Build(loginAlert("1.2.3.4", t0.Add(30*time.Minute))).Recurrence["ip"]; got != 0 {
		t.Errorf("sighting outside window recurrence = %d", got)
	}
	if got := b.Build(loginAlert(alert.Unknown, t0)).Recurrence["ip"]; got != 0 {
		t.Errorf("unknown entity recurrence = %d", got)
	}
}

func TestBuild_ReplayIsNotRecorded(t *testing.T) {
	b := NewBuilder(Settings{Kinds: []string{"ip"}, HistoryWindow: 10 * time.Minute})
	t0 := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

	first := b.Build(loginAlert("1.2.3.4", t0))
	if first.Replay {
		t.Fatal("first sighting marked as replay")
	}
	for i := 0; i < 3; i++ {
		again := b.Build(loginAlert("1.2.3.4", t0))
		if !again.Replay {
			t.Fatalf("re-ingest %d not marked as replay", i)
		}
		if again.Recurrence["ip"] != 1 || again.EventTypeRecurrence != 1 {
			t.Errorf("re-ingest %d: ip=%d event_type=%d, want 1", i, again.Recurrence["ip"], again.EventTypeRecurrence)
		}
	}

	next := loginAlert("1.2.3.4", t0.Add(time.Minute))
	next.ID = "a-2"
	if s := b.Build(next); s.Replay || s.Recurrence["ip"] != 1 {
		t.Errorf("new alert after replays: replay=%v ip=%d, want false 1", s.Replay, s.Recurrence["ip"])
	}

	anon := loginAlert("1.2.3.4", t0)
	anon.ID = alert.Unknown
	if b.Build(anon).Replay || b.Build(anon).Replay {
		t.Error("alerts without an id are never replays")
	}
}

func TestSet_Resolve(t *testing.T) {
	b := NewBuilder(Settings{Kinds: []string{"ip"}})
	s := b.Build(loginAlert("10.0.0.5", time.Date(2024, 6, 3, 23, 0, 0, 0, time.UTC)))

	cases := []struct {
		expr string
		want bool
	}{
		{`event_type == "login_fail"`, true},
		{`alert.severity == "high"`, true},
		{`entities.ip == "10.0.0.5"`, true},
		{`features.is_night == true AND hour == 23`, true},
		{`features.recurrence_ip == 0`, true},
		{`weekday in [0, 6]`, false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := condition.Evaluate(condition.MustParse(tc.expr), s)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}

	if _, ok := s.Resolve([]string{"raw", "anything"}); ok {
		t.Error("raw payload must not be reachable")
	}
}

func TestHistory_Prune(t *testing.T) {
	h := NewHistory(time.Minute, 0)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Observe("a", t0)
	h.Observe("b", t0.Add(time.Hour))
	if removed := h.Prune(t0.Add(30 * time.Minute)); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if h.Len() != 1 {
		t.Errorf("len = %d", h.Len())
	}
}
