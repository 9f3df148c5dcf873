// Package uploads manages the on-disk CV store. Binaries live only as long
// as the application fan-out needs them: every save can be scheduled for
// deletion, and a sweeper reclaims files whose deletion timer was lost to a
// restart.
package uploads

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
)

// Manager owns a single upload directory.
type Manager struct {
	dir string
	log *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(dir string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("op=uploads.New: mkdir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("op=uploads.New: %w", err)
	}
	return &Manager{
		dir:    abs,
		log:    log.With(slog.String("component", "uploads")),
		timers: make(map[string]*time.Timer),
	}, nil
}

// Save writes data under cv_{id}_{unixMillis}.{ext} and returns the absolute
// path. The identifier is reduced to [a-zA-Z0-9] so it cannot traverse.
func (m *Manager) Save(identifier, ext string, data []byte) (string, error) {
	name := fmt.Sprintf("cv_%s_%d%s", safeID(identifier), time.Now().UnixMilli(), ext)
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("op=uploads.Save: %w", err)
	}
	return path, nil
}

// Read returns the file contents. Paths outside the upload directory are
// refused; missing files map to domain.ErrNotFound.
func (m *Manager) Read(path string) ([]byte, error) {
	clean, err := m.contained(path)
	if err != nil {
		return nil, fmt.Errorf("op=uploads.Read: %w", err)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("op=uploads.Read: %s: %w", filepath.Base(clean), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=uploads.Read: %w", err)
	}
	return data, nil
}

// Delete removes the file and cancels any pending timer. Deleting a missing
// file is not an error.
func (m *Manager) Delete(path string) error {
	clean, err := m.contained(path)
	if err != nil {
		return fmt.Errorf("op=uploads.Delete: %w", err)
	}
	m.cancelTimer(clean)
	if err := os.Remove(clean); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("op=uploads.Delete: %w", err)
	}
	return nil
}

// ScheduleDelete arms (or re-arms) a deletion timer for the file. Timers do
// not survive a restart; Sweep covers that gap.
func (m *Manager) ScheduleDelete(path string, after time.Duration) {
	clean, err := m.contained(path)
	if err != nil {
		m.log.Warn("refusing delete schedule outside upload dir", slog.String("path", path))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[clean]; ok {
		t.Stop()
	}
	m.timers[clean] = time.AfterFunc(after, func() {
		m.mu.Lock()
		delete(m.timers, clean)
		m.mu.Unlock()
		if err := os.Remove(clean); err != nil && !os.IsNotExist(err) {
			m.log.Warn("scheduled delete failed", slog.String("path", clean), slog.Any("error", err))
			return
		}
		m.log.Debug("upload deleted", slog.String("file", filepath.Base(clean)))
	})
}

// Sweep deletes uploads older than olderThan for which inUse reports false.
// Run from the maintenance cron so files orphaned by a crash still go away.
func (m *Manager) Sweep(olderThan time.Duration, inUse func(path string) bool) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("op=uploads.Sweep: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "cv_") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		if inUse != nil && inUse(path) {
			continue
		}
		m.cancelTimer(path)
		if err := os.Remove(path); err != nil {
			m.log.Warn("sweep remove failed", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("swept orphaned uploads", slog.Int("removed", removed))
	}
	return removed, nil
}

// Close stops all pending deletion timers. Files stay for Sweep to reclaim.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for path, t := range m.timers {
		t.Stop()
		delete(m.timers, path)
	}
}

// Dir exposes the resolved upload directory, mainly for readiness checks.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) cancelTimer(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[path]; ok {
		t.Stop()
		delete(m.timers, path)
	}
}

// contained resolves path and verifies it stays inside the upload dir.
func (m *Manager) contained(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if abs != m.dir && !strings.HasPrefix(abs, m.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes upload dir: %w", domain.ErrInvalidArgument)
	}
	return abs, nil
}

func safeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "anon"
	}
	return b.String()
}
