// Package cooldown tracks the last accepted action per identifier and
// suppresses repeats inside a configurable window. The ledger survives
// restarts via a debounced JSON file write.
package cooldown

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thanhpd/warelay/internal/pacing"
)

// DefaultDebounce coalesces bursts of ledger updates into one disk write.
const DefaultDebounce = 5 * time.Second

// Gate is a per-identifier cooldown ledger. Safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	last     map[string]time.Time
	path     string // empty disables persistence
	debounce time.Duration
	timer    *time.Timer
	now      func() time.Time
}

// NewGate loads the ledger from path (empty path keeps the gate purely
// in-memory). A corrupt or missing ledger file starts fresh, never fails.
func NewGate(path string, debounce time.Duration) *Gate {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	g := &Gate{
		last:     make(map[string]time.Time),
		path:     path,
		debounce: debounce,
		now:      time.Now,
	}
	g.load()
	return g
}

// ShouldProcess reports whether an action for id is allowed now. On true it
// records the current time for id; on false the ledger is left untouched so
// a burst cannot keep refreshing its own suppression.
func (g *Gate) ShouldProcess(id string, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[id]; ok && now.Sub(last) < window {
		return false
	}
	g.last[id] = now
	g.scheduleFlushLocked()
	return true
}

// ShouldProcessBetween is ShouldProcess with a window randomized per call in
// [min, max], avoiding a detectable fixed cadence.
func (g *Gate) ShouldProcessBetween(id string, min, max time.Duration) bool {
	return g.ShouldProcess(id, pacing.Jitter(min, max))
}

// Sweep removes entries older than maxAge and returns how many were removed.
// The ledger file is rewritten only when something was actually removed.
func (g *Gate) Sweep(maxAge time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, last := range g.last {
		if now.Sub(last) > maxAge {
			delete(g.last, id)
			removed++
		}
	}
	if removed > 0 {
		g.scheduleFlushLocked()
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

// FlushNow cancels any pending debounce and writes the ledger immediately.
// Call on shutdown so no pending write is lost.
func (g *Gate) FlushNow() error {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	snapshot := g.snapshotLocked()
	g.mu.Unlock()

	return g.write(snapshot)
}

// scheduleFlushLocked arms (or re-arms) the debounce timer. Callers hold g.mu.
// The in-memory decision is never delayed, only the disk write.
func (g *Gate) scheduleFlushLocked() {
	if g.path == "" {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.debounce, func() {
		g.mu.Lock()
		g.timer = nil
		snapshot := g.snapshotLocked()
		g.mu.Unlock()

		if err := g.write(snapshot); err != nil {
			slog.Warn("cooldown ledger write failed", "path", g.path, "error", err)
		}
	})
}

func (g *Gate) snapshotLocked() map[string]int64 {
	out := make(map[string]int64, len(g.last))
	for id, t := range g.last {
		out[id] = t.UnixMilli()
	}
	return out
}

func (g *Gate) write(entries map[string]int64) error {
	if g.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.path, data, 0o644)
}

func (g *Gate) load() {
	if g.path == "" {
		return
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cooldown ledger read failed, starting fresh", "path", g.path, "error", err)
		}
		return
	}
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("cooldown ledger corrupt, starting fresh", "path", g.path, "error", err)
		return
	}
	for id, ms := range raw {
		g.last[id] = time.UnixMilli(ms)
	}
	slog.Debug("cooldown ledger loaded", "path", g.path, "entries", len(g.last))
}
