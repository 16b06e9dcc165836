package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/features"
	"github.com/gyaneshwarpardhi/aria/internal/rules"
)

func newSet(b *features.Builder, id, eventType string, ts time.Time) *features.Set {
	return b.Build(&alert.Alert{
		ID:        id,
		Timestamp: ts,
		Source:    "splunk",
		Severity:  alert.SeverityHigh,
		EventType: eventType,
		Entities:  map[string]string{"ip": "10.0.0.1", "user": "alice"},
	})
}

func sampleSet() *features.Set {
	b := features.NewBuilder(features.Settings{Kinds: []string{"ip", "user"}})
	return newSet(b, "a-1", "login_fail", time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC))
}

func TestLogisticModel(t *testing.T) {
	fs := sampleSet()
	m := NewLogisticModel(DefaultBias, DefaultWeights)
	sig, err := m.Score(context.Background(), fs)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if sig.Value <= 0 || sig.Value >= 1 {
		t.Fatalf("probability %v outside (0,1)", sig.Value)
	}
	if len(sig.Contributions) == 0 {
		t.Fatal("expected per-feature contributions")
	}
	for _, c := range sig.Contributions {
		if c.Value <= 0 {
			t.Errorf("positive weight %s produced contribution %v", c.Name, c.Value)
		}
	}

	zero := NewLogisticModel(0, nil)
	sig, _ = zero.Score(context.Background(), fs)
	if sig.Value != 0.5 || len(sig.Contributions) != 0 {
		t.Errorf("empty model = %+v, want 0.5 with no contributions", sig)
	}
}

func TestHTTPModel(t *testing.T) {
	var got modelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"probability": 0.82, "contributions": {"is_night": 0.3, "hour": -0.1}}`))
	}))
	defer srv.Close()

	m, err := NewHTTPModel(srv.URL, map[string]string{"X-Api-Key": "k"})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := m.Score(context.Background(), sampleSet())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if sig.Value != 0.82 {
		t.Errorf("probability = %v", sig.Value)
	}
	if len(sig.Contributions) != 2 || sig.Contributions[0].Name != "hour" {
		t.Errorf("contributions = %+v", sig.Contributions)
	}
	if got.AlertID != "a-1" || got.Features[features.IsNight] != 1 {
		t.Errorf("request = %+v", got)
	}

	bad, _ := NewHTTPModel(srv.URL, nil)
	if _, err := bad.Score(context.Background(), sampleSet()); err == nil {
		t.Error("expected error for non-2xx response")
	}
}

func TestAnomalyModel(t *testing.T) {
	b := features.NewBuilder(features.Settings{Kinds: []string{"ip", "user"}, HistoryWindow: time.Minute})
	m := NewAnomalyModel(AnomalySettings{Window: 24 * time.Hour, MinSamples: 10, MaxSamples: 100})
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	// Sparse history is neutral.
	sig, err := m.Score(ctx, newSet(b, "s", "dns", base))
	if err != nil || sig.Value != 0 {
		t.Fatalf("sparse baseline = %v, %v; want 0", sig.Value, err)
	}

	// One alert every ten minutes during business hours builds a quiet baseline.
	for i := 1; i < 30; i++ {
		ts := base.Add(time.Duration(i) * 10 * time.Minute)
		if sig, _ := m.Score(ctx, newSet(b, "n", "dns", ts)); sig.Value < 0 {
			t.Fatalf("negative anomaly score %v", sig.Value)
		}
	}

	// The first alert at 03:00 is rare by hour; by the end of the burst the rate dominates.
	burst := time.Date(2024, 6, 4, 3, 0, 0, 0, time.UTC)
	first, _ := m.Score(ctx, newSet(b, "b", "dns", burst))
	if first.Value <= 0 || !hasContribution(first, features.Hour) {
		t.Errorf("first burst alert = %+v, want hour rarity", first)
	}
	var last Signal
	for i := 1; i < 8; i++ {
		last, _ = m.Score(ctx, newSet(b, "b", "dns", burst.Add(time.Duration(i)*time.Second)))
	}
	if last.Value <= 1 || !hasContribution(last, features.EventTypeRecurrence) {
		t.Errorf("last burst alert = %+v, want rate > 1", last)
	}

	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}
	if n := m.Prune(burst.Add(time.Hour)); n != 1 || m.Len() != 0 {
		t.Errorf("Prune removed %d, Len = %d", n, m.Len())
	}
}

func TestAnomalyModel_ReplayLeavesBaseline(t *testing.T) {
	b := features.NewBuilder(features.Settings{Kinds: []string{"ip"}, HistoryWindow: time.Minute})
	m := NewAnomalyModel(AnomalySettings{Window: 24 * time.Hour, MinSamples: 10, MaxSamples: 100})
	ctx := context.Background()
	ts := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := m.Score(ctx, newSet(b, "r-1", "dns", ts)); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(m.baseline("dns").samples); n != 1 {
		t.Errorf("baseline samples = %d, want 1", n)
	}
}

func TestRuleProvider(t *testing.T) {
	set, err := rules.Build(&config.Config{Version: "v1", Rules: []config.Rule{
		{ID: "night", Expression: `is_night == true`, Weight: 0.3},
		{ID: "broken", Expression: `entities.host == "x"`, Weight: 0.5},
	}})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := NewRuleProvider(set).Score(context.Background(), sampleSet())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if sig.Value != 0.3 || len(sig.Contributions) != 1 || sig.Contributions[0].Name != "rule:night" {
		t.Errorf("signal = %+v", sig)
	}

	sig, err = NewRuleProvider(nil).Score(context.Background(), sampleSet())
	if err != nil || sig.Value != 0 {
		t.Errorf("nil set = %+v, %v", sig, err)
	}
}

func constant(name string, v float64) Provider {
	return Func{ProviderName: name, Fn: func(context.Context, *features.Set) (Signal, error) {
		return Signal{Value: v, Contributions: []Contribution{{Name: name + "_feature", Value: v}}}, nil
	}}
}

func TestComposite_HangingSupervisedIsNeutral(t *testing.T) {
	hang := Func{ProviderName: Supervised, Fn: func(context.Context, *features.Set) (Signal, error) {
		select {} // ignores its context entirely
	}}
	c := NewComposite(hang, constant(Anomaly, 2), constant(Rules, 0.2), Timeouts{
		Supervised: 50 * time.Millisecond,
		Anomaly:    time.Second,
		Rules:      time.Second,
	})

	start := time.Now()
	res := c.Score(context.Background(), sampleSet())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Score took %v, want bounded by the supervised timeout", elapsed)
	}
	if res.SupervisedProb != NeutralProbability {
		t.Errorf("supervised = %v, want %v", res.SupervisedProb, NeutralProbability)
	}
	if res.AnomalyScore != 2 || res.RuleBoost != 0.2 {
		t.Errorf("healthy providers affected: %+v", res)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != Supervised {
		t.Errorf("degraded = %v", res.Degraded)
	}
}

func TestComposite_Degradation(t *testing.T) {
	failing := func(name string) Provider {
		return Func{ProviderName: name, Fn: func(context.Context, *features.Set) (Signal, error) {
			return Signal{}, errors.New("boom")
		}}
	}
	panicking := Func{ProviderName: Anomaly, Fn: func(context.Context, *features.Set) (Signal, error) {
		panic("bad baseline")
	}}

	tests := []struct {
		name       string
		sup, anom  Provider
		rules      Provider
		wantSup    float64
		wantAnom   float64
		wantBoost  float64
		wantDegrad int
	}{
		{"all healthy", constant(Supervised, 0.9), constant(Anomaly, 1), constant(Rules, -0.1), 0.9, 1, -0.1, 0},
		{"all failing", failing(Supervised), failing(Anomaly), failing(Rules), 0.5, 0, 0, 3},
		{"probability out of range", constant(Supervised, 1.5), constant(Anomaly, 1), constant(Rules, 0), 0.5, 1, 0, 1},
		{"NaN probability", constant(Supervised, math.NaN()), constant(Anomaly, 1), constant(Rules, 0), 0.5, 1, 0, 1},
		{"negative anomaly", constant(Supervised, 0.2), constant(Anomaly, -1), constant(Rules, 0), 0.2, 0, 0, 1},
		{"infinite boost", constant(Supervised, 0.2), constant(Anomaly, 0), constant(Rules, math.Inf(1)), 0.2, 0, 0, 1},
		{"panicking provider", constant(Supervised, 0.2), panicking, constant(Rules, 0), 0.2, 0, 0, 1},
		{"missing providers", nil, nil, nil, 0.5, 0, 0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComposite(tt.sup, tt.anom, tt.rules, Timeouts{Supervised: time.Second, Anomaly: time.Second, Rules: time.Second})
			res := c.Score(context.Background(), sampleSet())
			if res.SupervisedProb != tt.wantSup || res.AnomalyScore != tt.wantAnom || res.RuleBoost != tt.wantBoost {
				t.Errorf("got (%v, %v, %v), want (%v, %v, %v)",
					res.SupervisedProb, res.AnomalyScore, res.RuleBoost, tt.wantSup, tt.wantAnom, tt.wantBoost)
			}
			if len(res.Degraded) != tt.wantDegrad {
				t.Errorf("degraded = %v, want %d entries", res.Degraded, tt.wantDegrad)
			}
		})
	}
}

func TestNewSupervised(t *testing.T) {
	p, err := NewSupervised(config.SupervisedConf{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*LogisticModel); !ok {
		t.Errorf("default provider = %T", p)
	}
	p, err = NewSupervised(config.SupervisedConf{Endpoint: "http://model.local/score"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*HTTPModel); !ok {
		t.Errorf("endpoint provider = %T", p)
	}
}

func hasContribution(sig Signal, name string) bool {
	for _, c := range sig.Contributions {
		if c.Name == name {
			return true
		}
	}
	return false
}
