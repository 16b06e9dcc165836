package normalize

import (
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
)

func fixedNow() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

func newTestNormalizer(extra ...EntityRule) *Normalizer {
	n := New("", extra)
	n.now = fixedNow
	return n
}

func TestNormalize_Defaults(t *testing.T) {
	n := newTestNormalizer()
	inputs := []map[string]interface{}{
		nil,
		{},
		{"timestamp": "not a time"},
		{"id": "", "ip": 42.0, "severity": "weird"},
		{"user": map[string]interface{}{"nested": true}},
	}
	for i, raw := range inputs {
		a := n.Normalize(raw)
		if a.ID == "" {
			t.Errorf("case %d: empty alert_id", i)
		}
		if a.Timestamp.IsZero() {
			t.Errorf("case %d: zero timestamp", i)
		}
		for _, kind := range []string{"ip", "user"} {
			if v, ok := a.Entities[kind]; !ok || v == "" {
				t.Errorf("case %d: entity %s missing", i, kind)
			}
		}
		if a.Source != DefaultSource {
			t.Errorf("case %d: source = %q", i, a.Source)
		}
	}

	a := n.Normalize(map[string]interface{}{"timestamp": "garbage"})
	if !a.Timestamp.Equal(fixedNow()) {
		t.Errorf("bad timestamp should fall back to ingestion time, got %v", a.Timestamp)
	}
	if a.ID != alert.Unknown || a.EventType != alert.Unknown || a.Severity != alert.SeverityMedium {
		t.Errorf("unexpected defaults: %+v", a)
	}
}

func TestNormalize_FieldPrecedence(t *testing.T) {
	n := newTestNormalizer()
	a := n.Normalize(map[string]interface{}{
		"_id":        "b-2",
		"@timestamp": "2024-03-10T12:00:00Z",
		"source":     "elastic",
		"severity":   "HIGH",
		"sourcetype": "WinEventLog",
		"ip":         "10.0.0.9",
		"src_ip":     "10.0.0.5",
		"username":   "bob",
	})
	if a.ID != "b-2" {
		t.Errorf("id = %q", a.ID)
	}
	want := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	if !a.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", a.Timestamp, want)
	}
	if a.Source != "elastic" || a.Severity != alert.SeverityHigh || a.EventType != "WinEventLog" {
		t.Errorf("unexpected fields: %+v", a)
	}
	if a.Entities["ip"] != "10.0.0.5" {
		t.Errorf("src_ip should win over ip, got %q", a.Entities["ip"])
	}
	if a.Entities["user"] != "bob" {
		t.Errorf("user = %q", a.Entities["user"])
	}
}

func TestNormalize_EmptyTimestampFallsThrough(t *testing.T) {
	n := newTestNormalizer()
	want := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	for name, v := range map[string]interface{}{
		"null":  nil,
		"empty": "",
		"blank": "  ",
	} {
		t.Run(name, func(t *testing.T) {
			a := n.Normalize(map[string]interface{}{
				"timestamp":  v,
				"@timestamp": "2024-06-03T12:00:00Z",
			})
			if !a.Timestamp.Equal(want) {
				t.Errorf("timestamp = %v, want %v", a.Timestamp, want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   interface{}
		want time.Time
		ok   bool
	}{
		{"trailing Z", "2024-03-10T12:00:00Z", base, true},
		{"fractional Z", "2024-03-10T12:00:00.250Z", base.Add(250 * time.Millisecond), true},
		{"naive", "2024-03-10T12:00:00", base, true},
		{"space separator", "2024-03-10 12:00:00", base, true},
		{"offset", "2024-03-10T14:00:00+02:00", base, true},
		{"date only", "2024-03-10", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), true},
		{"epoch seconds", float64(base.Unix()), base, true},
		{"epoch millis", float64(base.UnixMilli()), base, true},
		{"garbage", "yesterday", time.Time{}, false},
		{"negative", -5.0, time.Time{}, false},
		{"bool", true, time.Time{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && !got.Equal(tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNormalize_ExtraEntities(t *testing.T) {
	n := newTestNormalizer(
		EntityRule{Kind: "host", Fields: []string{"hostname", "device.name"}},
		EntityRule{Kind: "ip", Fields: []string{"client_ip"}},
	)
	a := n.Normalize(map[string]interface{}{
		"device":    map[string]interface{}{"name": "db-01"},
		"client_ip": "192.168.1.4",
	})
	if a.Entities["host"] != "db-01" {
		t.Errorf("host = %q", a.Entities["host"])
	}
	if a.Entities["ip"] != "192.168.1.4" {
		t.Errorf("ip = %q", a.Entities["ip"])
	}
	if a.Entities["user"] != alert.Unknown {
		t.Errorf("user = %q", a.Entities["user"])
	}
	if got := n.Kinds(); len(got) != 3 {
		t.Errorf("Kinds = %v", got)
	}
}

func TestNormalize_NumericID(t *testing.T) {
	a := newTestNormalizer().Normalize(map[string]interface{}{"id": float64(1234567)})
	if a.ID != "1234567" {
		t.Errorf("id = %q", a.ID)
	}
}
