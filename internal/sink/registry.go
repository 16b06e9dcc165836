// Package sink emits scored alerts and closed incidents to external stores.
package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/aria/internal/alert"
	"github.com/gyaneshwarpardhi/aria/internal/correlate"
)

// Writer is implemented by every sink.
type Writer interface {
	// Name is the key the writer is registered under and its metric label.
	Name() string
	WriteAlerts(ctx context.Context, alerts []*alert.Scored) error
	WriteIncidents(ctx context.Context, incidents []correlate.Snapshot) error
	Close() error
}

// Registry maps sink names to writers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu      sync.RWMutex
	writers map[string]Writer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{writers: make(map[string]Writer)}
}

// Register adds a writer. Panics on duplicate name to surface misconfiguration early.
func (r *Registry) Register(w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.writers[w.Name()]; exists {
		panic(fmt.Sprintf("sink registry: duplicate name %q", w.Name()))
	}
	r.writers[w.Name()] = w
}

// Get returns the writer registered under name.
func (r *Registry) Get(name string) (Writer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.writers[name]
	if !ok {
		return nil, fmt.Errorf("no sink registered under %q", name)
	}
	return w, nil
}

// Names returns all registered sink names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.writers))
	for k := range r.writers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered writers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.writers)
}

func (r *Registry) all() []Writer {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Writer, 0, len(names))
	for _, n := range names {
		out = append(out, r.writers[n])
	}
	return out
}

// Close closes every writer and returns the first error.
func (r *Registry) Close() error {
	var first error
	for _, w := range r.all() {
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("close sink %s: %w", w.Name(), err)
		}
	}
	return first
}
