package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
)

// HTTP posts batches to a webhook as {"scored_alerts": [...]} or {"incidents": [...]}.
type HTTP struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTP creates a webhook sink.
func NewHTTP(url string, timeout time.Duration, headers map[string]string) (*HTTP, error) {
	if url == "" {
		return nil, fmt.Errorf("http sink URL is empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{url: url, headers: headers, client: &http.Client{Timeout: timeout}}, nil
}

// Name implements Writer.
func (h *HTTP) Name() string { return "http" }

// WriteAlerts implements Writer.
func (h *HTTP) WriteAlerts(ctx context.Context, alerts []*alert.Scored) error {
	return h.post(ctx, map[string]interface{}{"scored_alerts": alerts})
}

// WriteIncidents implements Writer.
func (h *HTTP) WriteIncidents(ctx context.Context, incidents []correlate.Snapshot) error {
	return h.post(ctx, map[string]interface{}{"incidents": incidents})
}

func (h *HTTP) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("http sink request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http sink request failed with status %s", resp.Status)
	}
	return nil
}

// Close implements Writer.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
