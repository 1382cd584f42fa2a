package supervisor

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// activeSet tracks the temp files belonging to still-running commands so
// the reaper never deletes a live command's artifacts. It is the sole
// concurrency guard over the shared temp directory.
type activeSet struct {
	mu    sync.Mutex
	files map[string]struct{}
}

func newActiveSet() *activeSet {
	return &activeSet{files: make(map[string]struct{})}
}

func (a *activeSet) add(paths ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range paths {
		a.files[p] = struct{}{}
	}
}

func (a *activeSet) remove(paths ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range paths {
		delete(a.files, p)
	}
}

func (a *activeSet) contains(p string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[p]
	return ok
}

// reaper periodically deletes temp artifacts matching the supervisor's
// naming convention that are not claimed by an in-flight command and
// whose modification time exceeds the staleness threshold. It recovers
// from a crash mid-command that leaves orphaned files. StaleAfter must
// be comfortably larger than the command timeout so a slow-but-alive
// command is never reaped mid-flight.
type reaper struct {
	dir        string
	staleAfter time.Duration
	active     *activeSet
	log        *slog.Logger
}

func (r *reaper) run(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			r.sweep(time.Now())
		}
	}
}

func (r *reaper) sweep(now time.Time) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.log.Warn("reaper: read temp dir", "dir", r.dir, "err", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !matchesArtifact(e.Name()) {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		if r.active.contains(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < r.staleAfter {
			continue
		}
		if err := os.Remove(path); err == nil {
			r.log.Debug("reaper: removed stale artifact", "file", e.Name())
		}
	}
}

func matchesArtifact(name string) bool {
	for _, p := range []string{prefixCmd, prefixOut, prefixErr, prefixExit} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
