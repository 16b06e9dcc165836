package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/features"
)

// LogisticModel is a linear classifier over the feature vector:
// p = sigmoid(bias + Σ weight[name]·value). Features without a weight are ignored.
type LogisticModel struct {
	bias    float64
	weights map[string]float64
}

// NewLogisticModel copies weights.
func NewLogisticModel(bias float64, weights map[string]float64) *LogisticModel {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &LogisticModel{bias: bias, weights: w}
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

// Name implements Provider.
func (m *LogisticModel) Name() string { return Supervised }

// Score implements Provider. Each contribution is the change in probability
// caused by the feature, relative to the same input with that feature zeroed.
func (m *LogisticModel) Score(ctx context.Context, fs *features.Set) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	vec := fs.Vector()
	z := m.bias
	terms := make([]Contribution, 0, len(m.weights))
	for _, f := range vec {
		w, ok := m.weights[f.Name]
		if !ok || f.Value == 0 {
			continue
		}
		z += w * f.Value
		terms = append(terms, Contribution{Name: f.Name, Value: w * f.Value})
	}
	p := sigmoid(z)
	out := make([]Contribution, 0, len(terms))
	for _, t := range terms {
		if d := p - sigmoid(z-t.Value); d != 0 {
			out = append(out, Contribution{Name: t.Name, Value: d})
		}
	}
	return Signal{Value: p, Contributions: out}, nil
}

// HTTPModel calls a remote model service. The request body is
// {"alert_id": ..., "event_type": ..., "features": {name: value}} and the
// response must carry {"probability": p} with optional {"contributions": {name: value}}.
type HTTPModel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPModel creates a remote model client. The per-call deadline comes from ctx.
func NewHTTPModel(url string, headers map[string]string) (*HTTPModel, error) {
	if url == "" {
		return nil, fmt.Errorf("supervised model URL is empty")
	}
	return &HTTPModel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type modelRequest struct {
	AlertID   string             `json:"alert_id"`
	EventType string             `json:"event_type"`
	Features  map[string]float64 `json:"features"`
}

type modelResponse struct {
	Probability   *float64           `json:"probability"`
	Contributions map[string]float64 `json:"contributions"`
}

// Name implements Provider.
func (m *HTTPModel) Name() string { return Supervised }

// Score implements Provider.
func (m *HTTPModel) Score(ctx context.Context, fs *features.Set) (Signal, error) {
	req := modelRequest{AlertID: fs.AlertID, EventType: fs.EventType, Features: make(map[string]float64)}
	for _, f := range fs.Vector() {
		req.Features[f.Name] = f.Value
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Signal{}, fmt.Errorf("marshal model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Signal{}, fmt.Errorf("create model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range m.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return Signal{}, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Signal{}, fmt.Errorf("model request failed with status %s", resp.Status)
	}

	var out modelResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Signal{}, fmt.Errorf("decode model response: %w", err)
	}
	if out.Probability == nil {
		return Signal{}, fmt.Errorf("model response has no probability")
	}
	sig := Signal{Value: *out.Probability}
	names := make([]string, 0, len(out.Contributions))
	for k := range out.Contributions {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		sig.Contributions = append(sig.Contributions, Contribution{Name: k, Value: out.Contributions[k]})
	}
	return sig, nil
}
