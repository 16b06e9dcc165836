package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/aria/internal/metrics"
)

// ErrApply wraps an error returned by an OnChange callback.
var ErrApply = errors.New("config not applied")

// Loader reads the YAML config file and watches it for changes.
type Loader struct {
	path     string
	reload   sync.Mutex // serializes Reload
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config) error
}

// NewLoader creates a Loader and performs the initial load. An invalid file is an error.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the watched file path.
func (l *Loader) Path() string { return l.path }

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked with every valid reloaded config.
// Callbacks run in registration order; the first error aborts the reload and
// the previous config stays current.
func (l *Loader) OnChange(fn func(*Config) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the config when the file changes. The parent directory is
// watched so that editors replacing the file atomically are picked up.
// An invalid file is logged and the previous config keeps serving.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	go func() {
		defer w.Close()
		// editors emit several events per save; coalesce them
		var debounce <-chan time.Time
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					debounce = time.After(100 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				if _, err := l.Reload(); err != nil {
					slog.Warn("config reload rejected, keeping previous config", "path", l.path, "err", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload re-reads the file and hands it to the OnChange callbacks. The new
// config becomes current only once every callback has accepted it.
func (l *Loader) Reload() (*Config, error) {
	l.reload.Lock()
	defer l.reload.Unlock()

	cfg, err := l.load()
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("rejected").Inc()
		return nil, err
	}
	l.mu.RLock()
	callbacks := make([]func(*Config) error, len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.RUnlock()
	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			metrics.ConfigReloads.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrApply, err)
		}
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	metrics.ConfigReloads.WithLabelValues("success").Inc()
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
