package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
)

var ts0 = time.Date(2024, 6, 3, 3, 0, 0, 0, time.UTC)

type fakeWriter struct {
	name      string
	failUntil int

	mu        sync.Mutex
	calls     int
	alerts    []string
	incidents []string
}

func (f *fakeWriter) Name() string { return f.name }

func (f *fakeWriter) WriteAlerts(_ context.Context, alerts []*alert.Scored) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return errors.New("unavailable")
	}
	for _, a := range alerts {
		f.alerts = append(f.alerts, a.ID)
	}
	return nil
}

func (f *fakeWriter) WriteIncidents(_ context.Context, incidents []correlate.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range incidents {
		f.incidents = append(f.incidents, s.ID)
	}
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func (f *fakeWriter) snapshot() (alerts, incidents []string, calls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.alerts...), append([]string(nil), f.incidents...), f.calls
}

func scoredAlert(id string) *alert.Scored {
	return &alert.Scored{
		Alert: alert.Alert{
			ID:        id,
			Timestamp: ts0,
			Source:    "splunk",
			Severity:  alert.SeverityHigh,
			EventType: "login_fail",
			Entities:  map[string]string{"ip": "10.0.0.5", "user": "alice"},
		},
		SupervisedProb: 0.9,
		PriorityScore:  0.8,
		PriorityBucket: alert.BucketHigh,
		TopFeatures:    []string{"is_night"},
	}
}

func closedIncident(id string) correlate.Snapshot {
	closed := ts0.Add(time.Hour)
	return correlate.Snapshot{
		ID:             id,
		Alerts:         []alert.Scored{*scoredAlert("A"), *scoredAlert("B")},
		CreatedAt:      ts0,
		LastSeen:       ts0.Add(time.Minute),
		Entities:       map[string]string{"ip": "10.0.0.5"},
		PriorityBucket: alert.BucketCritical,
		Status:         correlate.StatusClosed,
		ClosedAt:       &closed,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEmitter_FlushOnBatchSizeAndShutdown(t *testing.T) {
	w := &fakeWriter{name: "fake"}
	reg := NewRegistry()
	reg.Register(w)
	e := NewEmitter(reg, EmitterSettings{BatchSize: 2, FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)

	e.EmitAlerts([]*alert.Scored{scoredAlert("1"), scoredAlert("2")})
	waitFor(t, func() bool {
		a, _, _ := w.snapshot()
		return len(a) == 2
	})

	e.EmitAlerts([]*alert.Scored{scoredAlert("3")})
	e.EmitIncident(closedIncident("inc-1"))
	cancel()
	e.Wait()

	a, inc, _ := w.snapshot()
	if len(a) != 3 || a[2] != "3" {
		t.Errorf("alerts = %v, want buffered alert flushed on shutdown", a)
	}
	if len(inc) != 1 || inc[0] != "inc-1" {
		t.Errorf("incidents = %v", inc)
	}
}

func TestEmitter_FlushOnInterval(t *testing.T) {
	w := &fakeWriter{name: "fake"}
	reg := NewRegistry()
	reg.Register(w)
	e := NewEmitter(reg, EmitterSettings{BatchSize: 100, FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); e.Wait() }()
	go e.Run(ctx)

	e.EmitAlerts([]*alert.Scored{scoredAlert("1")})
	waitFor(t, func() bool {
		a, _, _ := w.snapshot()
		return len(a) == 1
	})
}

func TestEmitter_Retries(t *testing.T) {
	w := &fakeWriter{name: "flaky", failUntil: 2}
	reg := NewRegistry()
	reg.Register(w)
	e := NewEmitter(reg, EmitterSettings{BatchSize: 1, FlushInterval: time.Hour, MaxAttempts: 3, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() { cancel(); e.Wait() }()
	go e.Run(ctx)

	e.EmitAlerts([]*alert.Scored{scoredAlert("1")})
	waitFor(t, func() bool {
		a, _, _ := w.snapshot()
		return len(a) == 1
	})
	if _, _, calls := w.snapshot(); calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	reg := NewRegistry()
	e := NewEmitter(reg, EmitterSettings{Buffer: 1})
	e.EmitAlerts([]*alert.Scored{scoredAlert("1"), scoredAlert("2"), scoredAlert("3")})
	if len(e.in) != 1 {
		t.Errorf("buffered = %d, want 1", len(e.in))
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeWriter{name: "b"})
	reg.Register(&fakeWriter{name: "a"})
	if got := reg.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names = %v", got)
	}
	if _, err := reg.Get("missing"); err == nil {
		t.Error("Get(missing) should fail")
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	reg.Register(&fakeWriter{name: "a"})
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	ap, ip := filepath.Join(dir, "alerts.jsonl"), filepath.Join(dir, "incidents.jsonl")
	f, err := NewFile(ap, ip)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := f.WriteAlerts(ctx, []*alert.Scored{scoredAlert("1"), scoredAlert("2")}); err != nil {
		t.Fatal(err)
	}
	if err := f.WriteIncidents(ctx, []correlate.Snapshot{closedIncident("inc-1")}); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	alerts := readLines(t, ap)
	if len(alerts) != 2 || alerts[1]["alert_id"] != "2" || alerts[0]["priority_bucket"] != "HIGH" {
		t.Errorf("alerts file = %v", alerts)
	}
	incidents := readLines(t, ip)
	if len(incidents) != 1 || incidents[0]["incident_id"] != "inc-1" || incidents[0]["status"] != "closed" {
		t.Errorf("incidents file = %v", incidents)
	}

	// empty incidents path disables that kind
	f2, err := NewFile(ap, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f2.WriteIncidents(ctx, []correlate.Snapshot{closedIncident("inc-2")}); err != nil {
		t.Errorf("WriteIncidents without path: %v", err)
	}
	f2.Close()
}

func TestHTTP(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]json.RawMessage
		keys   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, body)
		keys = append(keys, r.Header.Get("X-Api-Key"))
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL+"/ok", time.Second, map[string]string{"X-Api-Key": "k"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := h.WriteAlerts(ctx, []*alert.Scored{scoredAlert("1")}); err != nil {
		t.Fatal(err)
	}
	if err := h.WriteIncidents(ctx, []correlate.Snapshot{closedIncident("inc-1")}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d", len(bodies))
	}
	if _, ok := bodies[0]["scored_alerts"]; !ok {
		t.Errorf("first body = %v, want scored_alerts", bodies[0])
	}
	if _, ok := bodies[1]["incidents"]; !ok {
		t.Errorf("second body = %v, want incidents", bodies[1])
	}
	if keys[0] != "k" {
		t.Errorf("header = %q", keys[0])
	}
	mu.Unlock()

	bad, _ := NewHTTP(srv.URL+"/fail", time.Second, nil)
	if err := bad.WriteAlerts(ctx, []*alert.Scored{scoredAlert("1")}); err == nil {
		t.Error("500 response should fail")
	}
	if _, err := NewHTTP("", 0, nil); err == nil {
		t.Error("empty URL should fail")
	}
}

func TestKafka_Config(t *testing.T) {
	if _, err := NewKafka(nil, "a", "i"); err == nil {
		t.Error("no brokers should fail")
	}
	k, err := NewKafka([]string{"localhost:9092"}, "", "")
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()
	// no topics configured: nothing is produced and nothing dials
	if err := k.WriteAlerts(context.Background(), []*alert.Scored{scoredAlert("1")}); err != nil {
		t.Errorf("WriteAlerts without topic: %v", err)
	}

	m, err := message("aria.alerts", "1", scoredAlert("1"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Topic != "aria.alerts" || string(m.Key) != "1" {
		t.Errorf("message = %s/%s", m.Topic, m.Key)
	}
}

func TestClickHouseRows(t *testing.T) {
	row := alertRow(scoredAlert("1"))
	if len(row) != 13 {
		t.Fatalf("alert row has %d columns, want 13", len(row))
	}
	if row[0] != "1" || row[10] != "HIGH" {
		t.Errorf("alert row = %v", row)
	}
	if d, ok := row[12].([]string); !ok || d == nil {
		t.Errorf("degraded column = %#v, want empty non-nil slice", row[12])
	}

	inc := closedIncident("inc-1")
	irow := incidentRow(&inc)
	if len(irow) != 8 {
		t.Fatalf("incident row has %d columns, want 8", len(irow))
	}
	if ids, _ := irow[6].([]string); len(ids) != 2 || ids[0] != "A" {
		t.Errorf("alert_ids = %v", irow[6])
	}
	if irow[7] != uint32(2) {
		t.Errorf("alert_count = %v", irow[7])
	}
	if c, _ := irow[3].(*time.Time); c == nil {
		t.Error("closed_at should be set")
	}

	open := closedIncident("inc-2")
	open.ClosedAt = nil
	if c, _ := incidentRow(&open)[3].(*time.Time); c != nil {
		t.Error("closed_at should be nil for open incident")
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	reg, err := Build(context.Background(), config.SinksConf{
		File: config.FileSinkConf{Enabled: true, AlertsPath: filepath.Join(dir, "a.jsonl")},
		HTTP: config.HTTPSinkConf{Enabled: true, URL: "http://127.0.0.1:1/hook"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	if got := reg.Names(); len(got) != 2 || got[0] != "file" || got[1] != "http" {
		t.Errorf("Names = %v", got)
	}

	if _, err := Build(context.Background(), config.SinksConf{HTTP: config.HTTPSinkConf{Enabled: true}}); err == nil {
		t.Error("http sink without URL should fail")
	}
}
