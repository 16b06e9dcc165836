package api

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/config"
	"github.com/gyaneshwarpardhi/aria/internal/engine"
	"github.com/gyaneshwarpardhi/aria/internal/history"
	"github.com/gyaneshwarpardhi/aria/internal/metrics"
	"github.com/gyaneshwarpardhi/aria/internal/source"
)

const (
	maxBodyBytes   = 32 << 20
	defaultListLen = 50
	maxListLen     = 1000
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng     *engine.Engine
	loader  *config.Loader
	history history.Store
}

// New creates an HTTP handler and registers all routes.
func New(eng *engine.Engine, loader *config.Loader, hist history.Store) http.Handler {
	h := &Handler{eng: eng, loader: loader, history: hist}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", h.ingestAlerts)
		r.Get("/alerts", h.listAlerts)
		r.Post("/debug/upload_json", h.uploadJSON)
		r.Get("/incidents", h.listIncidents)
		r.Get("/incidents/{id}", h.getIncident)
		r.Get("/config", h.getConfig)
		r.Post("/config/reload", h.reloadConfig)
	})
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// POST /api/v1/alerts: one raw alert object or an array of them, scored and correlated synchronously.
func (h *Handler) ingestAlerts(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("read body: %s", err))
		return
	}
	raws, err := source.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	h.process(w, r, "http", raws)
}

// POST /api/v1/debug/upload_json: multipart field "file" holding a JSON array, a JSON object or JSON lines.
func (h *Handler) uploadJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("multipart field \"file\" is required: %s", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read file: %s", err))
		return
	}
	raws, err := decodeUpload(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.process(w, r, "upload", raws)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request, intake string, raws []interface{}) {
	if len(raws) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one alert")
		return
	}
	metrics.AlertsReceived.WithLabelValues(intake).Add(float64(len(raws)))
	res, err := h.eng.ProcessBatch(r.Context(), raws)
	if err != nil {
		if errors.Is(err, engine.ErrBatchTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeUpload accepts a JSON document, falling back to one document per line.
func decodeUpload(data []byte) ([]interface{}, error) {
	if raws, err := source.Decode(data); err == nil {
		return raws, nil
	}
	var out []interface{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		raws, err := source.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON on line %d: %s", line, err)
		}
		out = append(out, raws...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return out, nil
}

// GET /api/v1/alerts?priority=CRITICAL&limit=N: recent scored alerts, newest first.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	var bucket alert.Bucket
	if p := r.URL.Query().Get("priority"); p != "" {
		b, err := alert.ParseBucket(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		bucket = b
	}
	limit := defaultListLen
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be a positive integer, got %q", l))
			return
		}
		limit = min(n, maxListLen)
	}
	alerts, err := h.history.List(r.Context(), bucket, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if alerts == nil {
		alerts = []alert.Scored{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GET /api/v1/incidents: open incidents, highest priority first.
func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	open := h.eng.Correlator().Open()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": open,
		"count":     len(open),
	})
}

// GET /api/v1/incidents/{id}: an open or recently closed incident.
func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.eng.Correlator().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("incident %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /api/v1/config: effective configuration. Secrets are not serialized.
func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.loader.Config())
}

// POST /api/v1/config/reload: re-read the config file and apply it.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"version":     cfg.Version,
		"rules_count": h.eng.RuleCount(),
		"window":      cfg.Correlation.Window.String(),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the scoring queue is more than 80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
		"open_incidents":    h.eng.Correlator().OpenCount(),
	})
}
