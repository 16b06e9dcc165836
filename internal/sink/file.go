package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
)

// jsonlFile appends one JSON document per line.
type jsonlFile struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func openJSONL(path string) (*jsonlFile, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &jsonlFile{f: f, enc: json.NewEncoder(f)}, nil
}

func (j *jsonlFile) write(v interface{}) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(v)
}

func (j *jsonlFile) close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// File writes scored alerts and closed incidents as JSON lines.
// Either path may be empty to skip that record kind.
type File struct {
	alerts    *jsonlFile
	incidents *jsonlFile
}

// NewFile opens (or creates) the two files for appending.
func NewFile(alertsPath, incidentsPath string) (*File, error) {
	a, err := openJSONL(alertsPath)
	if err != nil {
		return nil, err
	}
	i, err := openJSONL(incidentsPath)
	if err != nil {
		a.close()
		return nil, err
	}
	return &File{alerts: a, incidents: i}, nil
}

// Name implements Writer.
func (f *File) Name() string { return "file" }

// WriteAlerts implements Writer.
func (f *File) WriteAlerts(_ context.Context, alerts []*alert.Scored) error {
	for _, a := range alerts {
		if err := f.alerts.write(a); err != nil {
			return fmt.Errorf("write alert %s: %w", a.ID, err)
		}
	}
	return nil
}

// WriteIncidents implements Writer.
func (f *File) WriteIncidents(_ context.Context, incidents []correlate.Snapshot) error {
	for _, s := range incidents {
		if err := f.incidents.write(s); err != nil {
			return fmt.Errorf("write incident %s: %w", s.ID, err)
		}
	}
	return nil
}

// Close implements Writer.
func (f *File) Close() error {
	err := f.alerts.close()
	if ierr := f.incidents.close(); err == nil {
		err = ierr
	}
	return err
}
