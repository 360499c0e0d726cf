package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupPolicy configures a background sweep that evicts files under a
// sandbox subtree once they exceed a maximum age. Age is judged by last
// access time where the platform reports one, falling back to mtime.
type CleanupPolicy struct {
	Enabled       bool          `yaml:"enabled"`
	MaxAge        time.Duration `yaml:"max_age"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultCleanupPolicy returns a conservative policy: disabled by default,
// since most sandboxes (e.g. pipeline working directories) are cleaned up
// by their owning stage, not by a timer.
func DefaultCleanupPolicy() CleanupPolicy {
	return CleanupPolicy{
		Enabled:       false,
		MaxAge:        24 * time.Hour,
		CheckInterval: time.Hour,
	}
}

// RunCleanup evicts files under relativePath older than the policy's
// MaxAge, once. Returns the number of files removed. A directory left
// empty after eviction is itself removed.
func (s *Sandbox) RunCleanup(policy CleanupPolicy, relativePath string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	if !policy.Enabled {
		return 0, nil
	}

	root, err := s.ResolvePath(relativePath)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-policy.MaxAge)
	removed := 0

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if accessOrModTime(info).After(cutoff) {
			return nil
		}
		rel, relErr := filepath.Rel(s.baseDir, path)
		if relErr != nil {
			return nil
		}
		if rmErr := s.Remove(rel); rmErr != nil {
			logger.Warn("cleanup: failed to remove stale file", slog.String("path", rel), slog.Any("error", rmErr))
			return nil
		}
		removed++
		return nil
	})

	s.pruneEmptyDirs(root)

	return removed, err
}

func (s *Sandbox) pruneEmptyDirs(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == root {
			return nil
		}
		entries, rerr := os.ReadDir(path)
		if rerr == nil && len(entries) == 0 {
			os.Remove(path)
		}
		return nil
	})
}

// StartCleanupLoop launches a goroutine that calls RunCleanup on the given
// interval until ctx is cancelled. The returned function blocks until the
// loop has exited.
func (s *Sandbox) StartCleanupLoop(ctx context.Context, policy CleanupPolicy, relativePath string, logger *slog.Logger) func() {
	done := make(chan struct{})
	if !policy.Enabled {
		close(done)
		return func() { <-done }
	}

	interval := policy.CheckInterval
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunCleanup(policy, relativePath, logger); err != nil {
					logger.Warn("cleanup sweep error", slog.Any("error", err))
				}
			}
		}
	}()

	return func() { <-done }
}
