package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrConfigUnavailable reports that no configuration has been loaded yet
var ErrConfigUnavailable = errors.New("configuration unavailable")

// Stats describes the refresh history of a Registry
type Stats struct {
	Source              string    `json:"source"`
	Version             uint64    `json:"version"`
	LoadedAt            time.Time `json:"loaded_at"`
	Domains             int       `json:"domains"`
	Mocks               int       `json:"mocks"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorAt         time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Registry holds the last good configuration snapshot. Readers call Current and
// never block; Refresh replaces the snapshot in one atomic swap and only on
// success.
type Registry struct {
	source  Source
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	refreshMu sync.Mutex

	statsMu    sync.Mutex
	lastErr    error
	lastErrAt  time.Time
	failures   int
	everLoaded bool
}

// New creates a registry serving an empty snapshot until the first refresh
func New(source Source, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		source: source,
		logger: logger.With(zap.String("component", "registry")),
	}
	r.current.Store(Empty())
	return r
}

// Current returns the last successfully loaded snapshot
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Loaded reports whether any refresh has succeeded
func (r *Registry) Loaded() bool {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.everLoaded
}

// Refresh loads the configuration from the source and swaps it in. On failure
// the current snapshot is left untouched.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	domains, err := r.source.Load(ctx)
	if err != nil {
		r.recordFailure(err)
		return fmt.Errorf("refresh from %s: %w", r.source, err)
	}

	snap := NewSnapshot(r.version.Add(1), domains, r.logger)
	r.current.Store(snap)

	r.statsMu.Lock()
	r.failures = 0
	r.everLoaded = true
	r.statsMu.Unlock()

	r.logger.Debug("configuration refreshed",
		zap.Uint64("version", snap.Version),
		zap.Int("domains", len(snap.Domains)),
		zap.Int("mocks", snap.MockCount()))
	return nil
}

func (r *Registry) recordFailure(err error) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.lastErr = err
	r.lastErrAt = time.Now()
	r.failures++
}

// Stats returns a copy of the refresh statistics
func (r *Registry) Stats() Stats {
	snap := r.Current()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	st := Stats{
		Source:              r.source.String(),
		Version:             snap.Version,
		LoadedAt:            snap.LoadedAt,
		Domains:             len(snap.Domains),
		Mocks:               snap.MockCount(),
		LastErrorAt:         r.lastErrAt,
		ConsecutiveFailures: r.failures,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

// Start runs the periodic refresh until ctx is cancelled. The returned channel
// is closed once the loop has exited.
func (r *Registry) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	r.logger.Info("starting refresh loop",
		zap.String("source", r.source.String()),
		zap.Duration("interval", interval))

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.logger.Error("failed to refresh configuration", zap.Error(err))
				}
			case <-ctx.Done():
				r.logger.Info("context cancelled, stopping refresh loop")
				return
			}
		}
	}()

	return done
}

// Watch refreshes whenever the file behind a FileSource changes. It blocks
// until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("refresh after file change failed", zap.Error(err))
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(werr))
		}
	}
}
