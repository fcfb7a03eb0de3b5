// Package usage accounts for the tokens spent on remote analysis.
package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"testnerd/internal/logging"
)

// Tracker aggregates analysis calls and persists them to a JSON file. It is
// safe for concurrent use; executions running in parallel share one.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	dirty    bool
	now      func() time.Time
}

// NewTracker loads the usage file at path. A missing file starts empty; a
// corrupt one is logged and replaced on the next Save.
func NewTracker(path string) *Tracker {
	t := &Tracker{
		filePath: path,
		data:     emptyData(),
		now:      time.Now,
	}
	if err := t.Load(); err != nil {
		logging.GatewayError("usage: load %s failed, starting empty: %v", path, err)
	}
	return t
}

func emptyData() UsageData {
	return UsageData{
		Version: "1.0",
		Aggregate: AggregatedStats{
			ByProvider: make(map[string]TokenCounts),
			ByModel:    make(map[string]TokenCounts),
			ByCategory: make(map[string]TokenCounts),
		},
	}
}

// Path returns the backing file.
func (t *Tracker) Path() string { return t.filePath }

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	loaded := emptyData()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse usage file: %w", err)
	}
	// Ensure maps are initialized if file was empty/partial
	if loaded.Aggregate.ByProvider == nil {
		loaded.Aggregate.ByProvider = make(map[string]TokenCounts)
	}
	if loaded.Aggregate.ByModel == nil {
		loaded.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if loaded.Aggregate.ByCategory == nil {
		loaded.Aggregate.ByCategory = make(map[string]TokenCounts)
	}
	t.data = loaded
	return nil
}

// Save writes the usage data to disk when anything changed since the last save.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}
	if err := t.saveLocked(); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

func (t *Tracker) saveLocked() error {
	t.data.Updated = t.now().UTC()
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.filePath), 0o755); err != nil {
		return fmt.Errorf("create usage dir: %w", err)
	}
	return os.WriteFile(t.filePath, data, 0o644)
}

// Track records one analysis call.
func (t *Tracker) Track(c Call) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	category := c.Category
	if c.Failed || category == "" {
		category = "FAILED"
	}

	t.data.Aggregate.Total.Add(c)
	addToMap(t.data.Aggregate.ByProvider, c.Provider, c)
	addToMap(t.data.Aggregate.ByModel, c.Model, c)
	addToMap(t.data.Aggregate.ByCategory, category, c)
	t.dirty = true
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByCategory = copyTokenCountsMap(stats.ByCategory)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, c Call) {
	if key == "" {
		key = "unknown"
	}
	entry := m[key]
	entry.Add(c)
	m[key] = entry
}
