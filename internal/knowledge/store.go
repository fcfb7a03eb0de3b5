package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Match is a FindBestMatch result.
type Match struct {
	Pattern KnownPattern
	Score   int
}

// Store is the in-memory view of the knowledge-base file.
//
// Readers take the active slice under a read lock; the slice is never
// modified in place, only replaced. Writers serialize on writeMu and always
// read the file, merge their change, and atomically replace it, so records
// another process added or disabled survive.
type Store struct {
	path string

	mu     sync.RWMutex
	active []KnownPattern

	writeMu sync.Mutex
	now     func() time.Time
}

// NewStore opens the knowledge base at path. A missing or unreadable file
// yields an empty store; the failure is logged.
func NewStore(path string) *Store {
	s := &Store{path: path, now: time.Now}
	s.Reload()
	return s
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) snapshot() []KnownPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) swap(active []KnownPattern) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// Patterns returns copies of the active patterns in file order.
func (s *Store) Patterns() []KnownPattern {
	active := s.snapshot()
	out := make([]KnownPattern, len(active))
	for i, p := range active {
		out[i] = p.clone()
	}
	return out
}

// Len returns the number of active patterns.
func (s *Store) Len() int { return len(s.snapshot()) }

// FindBestMatch returns the highest-scoring active pattern whose score meets
// its MinMatchSignals. Ties go to the higher HitCount, then to the record
// that appears first in the file.
func (s *Store) FindBestMatch(ev *types.ConditionEvent) (Match, bool) {
	var (
		best  Match
		found bool
	)
	for _, p := range s.snapshot() {
		score := p.Signals.Score(ev)
		if score == 0 || score < p.MinMatchSignals {
			continue
		}
		if !found || score > best.Score || (score == best.Score && p.HitCount > best.Pattern.HitCount) {
			best = Match{Pattern: p, Score: score}
			found = true
		}
	}
	if !found {
		logging.KnowledgeDebug("no pattern matched %s", ev.Type)
		return Match{}, false
	}
	best.Pattern = best.Pattern.clone()
	logging.Knowledge("pattern %s matched with score %d (hits=%d)", best.Pattern.Label(), best.Score, best.Pattern.HitCount)
	return best, true
}

// RecordHit increments the pattern's hit count and persists it.
func (s *Store) RecordHit(id string) {
	now := s.now().UTC()
	hit := func(p *KnownPattern) {
		p.HitCount++
		t := now
		p.LastHit = &t
	}
	found := s.mutate(func(records []KnownPattern) ([]KnownPattern, bool) {
		for i := range records {
			if records[i].ID == id {
				hit(&records[i])
				return records, true
			}
		}
		// the file lost the record; put the in-memory copy back
		for _, p := range s.snapshot() {
			if p.ID == id {
				p = p.clone()
				hit(&p)
				return append(records, p), true
			}
		}
		return records, false
	})
	if !found {
		logging.Get(logging.CategoryKnowledge).Warn("RecordHit: pattern %s not found", id)
	}
}

// Add validates p, assigns an ID and creation time when missing, and
// persists it. A record with the same ID is replaced. p must be enabled;
// retire patterns with Disable.
func (s *Store) Add(p KnownPattern) (KnownPattern, error) {
	if !p.Enabled {
		return KnownPattern{}, fmt.Errorf("%w: %s", ErrPatternDisabled, p.Label())
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	p.Insight.Normalize()
	if err := p.Validate(); err != nil {
		return KnownPattern{}, err
	}
	p = p.clone()

	s.mutate(func(records []KnownPattern) ([]KnownPattern, bool) {
		for i := range records {
			if records[i].ID == p.ID {
				records[i] = p
				return records, true
			}
		}
		return append(records, p), true
	})
	logging.Knowledge("added pattern %s (%s)", p.Label(), p.ID)
	return p.clone(), nil
}

// Disable removes the pattern from matching. The record stays on disk with
// Enabled=false.
func (s *Store) Disable(id string) error {
	found := s.mutate(func(records []KnownPattern) ([]KnownPattern, bool) {
		for i := range records {
			if records[i].ID == id {
				records[i].Enabled = false
				return records, true
			}
		}
		for _, p := range s.snapshot() {
			if p.ID == id {
				p = p.clone()
				p.Enabled = false
				return append(records, p), true
			}
		}
		return records, false
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	logging.Knowledge("disabled pattern %s", id)
	return nil
}

// Reload replaces the active set with the enabled records on disk.
func (s *Store) Reload() {
	records, err := readRecords(s.path)
	if err != nil {
		logging.KnowledgeError("load %s failed, knowledge base is empty: %v", s.path, err)
		s.swap(nil)
		return
	}
	s.swap(activeOf(records))
	logging.KnowledgeDebug("loaded %d/%d enabled patterns from %s", s.Len(), len(records), s.path)
}

// All returns every record on disk, disabled ones included.
func (s *Store) All() ([]KnownPattern, error) {
	return readRecords(s.path)
}

// mutate runs one read-merge-write cycle. fn receives the records on disk and
// returns the merged set and whether it changed anything. The active set is
// rebuilt from the merged records even when the write fails.
func (s *Store) mutate(fn func([]KnownPattern) ([]KnownPattern, bool)) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err := readRecords(s.path)
	writable := err == nil
	if err != nil {
		// a corrupt file must not be clobbered; merge against memory instead
		logging.KnowledgeError("read before write failed, skipping persist: %v", err)
		records = s.Patterns()
	}

	merged, changed := fn(records)
	if !changed {
		return false
	}
	if writable {
		if err := writeRecords(s.path, merged); err != nil {
			logging.KnowledgeError("persist %s failed: %v", s.path, err)
		}
	}
	s.swap(activeOf(merged))
	return true
}

func activeOf(records []KnownPattern) []KnownPattern {
	out := make([]KnownPattern, 0, len(records))
	for _, p := range records {
		if !p.Enabled {
			continue
		}
		if err := p.Validate(); err != nil {
			logging.Get(logging.CategoryKnowledge).Warn("skipping pattern: %v", err)
			continue
		}
		out = append(out, p.clone())
	}
	return out
}

// =============================================================================
// FILE I/O
// =============================================================================

// readRecords returns every record in the file. A missing or empty file is an
// empty knowledge base, not an error.
func readRecords(path string) ([]KnownPattern, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []KnownPattern
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	return records, nil
}

// writeRecords replaces path atomically via a temp file in the same directory.
func writeRecords(path string, records []KnownPattern) error {
	if records == nil {
		records = []KnownPattern{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode knowledge base: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create knowledge base dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace knowledge base: %w", err)
	}
	return nil
}
