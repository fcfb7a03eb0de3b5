// Package regression provides a lightweight regression battery for the
// diagnosis cascade. Batteries are YAML files listing recorded condition
// events and the diagnosis each one is expected to get, so changes to the
// knowledge base or checkers can be evaluated before they ship.
package regression

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"testnerd/internal/cascade"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Battery is a collection of regression cases.
type Battery struct {
	Version int    `yaml:"version"`
	Cases   []Case `yaml:"cases"`

	dir string
}

// Case is a single recorded event and its expected diagnosis.
type Case struct {
	ID     string      `yaml:"id"`
	Event  string      `yaml:"event"` // JSON event file, relative to the battery file
	Expect Expectation `yaml:"expect"`
}

// Expectation lists what the final round must show. Empty fields are not checked.
type Expectation struct {
	Source    types.Source   `yaml:"source,omitempty"`
	Category  types.Category `yaml:"category,omitempty"`
	Outcome   types.Outcome  `yaml:"outcome,omitempty"`
	Resolved  *bool          `yaml:"resolved,omitempty"`
	MaxRounds int            `yaml:"max_rounds,omitempty"`
}

// Result captures the outcome of one case.
type Result struct {
	CaseID     string
	Success    bool
	Mismatches []string
	Error      string
	DurationMs int64
}

// Runner diagnoses one event. Each call should use a fresh execution context.
type Runner func(ctx context.Context, ev *types.ConditionEvent) cascade.Result

// LoadBattery reads a YAML battery file from disk.
func LoadBattery(path string) (*Battery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse battery YAML: %w", err)
	}
	b.dir = filepath.Dir(path)
	return &b, nil
}

// RunBattery executes all cases in order. With failFast the run stops at the
// first failing case.
func RunBattery(ctx context.Context, b *Battery, run Runner, failFast bool) ([]Result, error) {
	if b == nil || len(b.Cases) == 0 {
		return nil, nil
	}
	if run == nil {
		return nil, fmt.Errorf("no runner")
	}

	results := make([]Result, 0, len(b.Cases))
	for _, c := range b.Cases {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		res := Result{CaseID: c.ID}

		ev, err := b.loadEvent(c.Event)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Mismatches = c.Expect.check(run(ctx, ev))
			res.Success = len(res.Mismatches) == 0
		}

		res.DurationMs = time.Since(start).Milliseconds()
		results = append(results, res)
		if !res.Success {
			logging.CascadeWarn("regression case %s failed: %s%s", c.ID, res.Error, strings.Join(res.Mismatches, "; "))
			if failFast {
				break
			}
		}
	}
	return results, nil
}

func (b *Battery) loadEvent(rel string) (*types.ConditionEvent, error) {
	if strings.TrimSpace(rel) == "" {
		return nil, fmt.Errorf("case has no event file")
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.dir, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ev types.ConditionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse %s: %w", rel, err)
	}
	return &ev, nil
}

func (e Expectation) check(res cascade.Result) []string {
	final := res.Final()
	var out []string
	if e.Source != "" && final.Source != e.Source {
		out = append(out, fmt.Sprintf("source %s, want %s", final.Source, e.Source))
	}
	if e.Category != "" && final.Insight.Category != e.Category {
		out = append(out, fmt.Sprintf("category %s, want %s", final.Insight.Category, e.Category))
	}
	if e.Outcome != "" && final.EffectiveOutcome() != e.Outcome {
		out = append(out, fmt.Sprintf("outcome %s, want %s", final.EffectiveOutcome(), e.Outcome))
	}
	if e.Resolved != nil && res.Resolved() != *e.Resolved {
		out = append(out, fmt.Sprintf("resolved %v, want %v", res.Resolved(), *e.Resolved))
	}
	if e.MaxRounds > 0 && len(res.Rounds) > e.MaxRounds {
		out = append(out, fmt.Sprintf("%d rounds, want at most %d", len(res.Rounds), e.MaxRounds))
	}
	return out
}

// DefaultBatteryPath returns the canonical battery path under a data directory.
func DefaultBatteryPath(dataDir string) string {
	return filepath.Join(dataDir, "regression", "battery.yaml")
}
