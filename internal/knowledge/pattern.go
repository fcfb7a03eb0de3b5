// Package knowledge holds the persisted, human-curated patterns consulted when
// no local checker recognizes a condition, and the sink that records
// conditions nobody has seen before.
package knowledge

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"testnerd/internal/types"
)

// Signals are the observable facts a pattern matches on. Free-text signals
// match as substrings; ConditionType must match exactly. Empty fields are
// undefined and never count.
type Signals struct {
	URLContains       string              `json:"urlContains,omitempty" yaml:"url_contains,omitempty"`
	LocatorContains   string              `json:"locatorContains,omitempty" yaml:"locator_contains,omitempty"`
	ExceptionContains string              `json:"exceptionContains,omitempty" yaml:"exception_contains,omitempty"`
	DOMContains       string              `json:"domContains,omitempty" yaml:"dom_contains,omitempty"`
	ConditionType     types.ConditionType `json:"conditionType,omitempty" yaml:"condition_type,omitempty"`
	MessageContains   string              `json:"messageContains,omitempty" yaml:"message_contains,omitempty"`
}

// Defined returns how many signals are set.
func (s Signals) Defined() int {
	n := 0
	for _, v := range []string{s.URLContains, s.LocatorContains, s.ExceptionContains, s.DOMContains, string(s.ConditionType), s.MessageContains} {
		if v != "" {
			n++
		}
	}
	return n
}

// Score returns how many defined signals the event satisfies.
func (s Signals) Score(ev *types.ConditionEvent) int {
	score := 0
	if s.URLContains != "" && strings.Contains(ev.CurrentURL, s.URLContains) {
		score++
	}
	if s.LocatorContains != "" && strings.Contains(ev.Locator.Value, s.LocatorContains) {
		score++
	}
	if s.ExceptionContains != "" && strings.Contains(ev.ResolvedExceptionType(), s.ExceptionContains) {
		score++
	}
	if s.DOMContains != "" && strings.Contains(ev.DOMSnapshot, s.DOMContains) {
		score++
	}
	if s.ConditionType != "" && s.ConditionType == ev.Type {
		score++
	}
	if s.MessageContains != "" && strings.Contains(ev.Message, s.MessageContains) {
		score++
	}
	return score
}

// KnownPattern is one curated record of the knowledge-base file.
type KnownPattern struct {
	ID              string        `json:"id" yaml:"id,omitempty"`
	Name            string        `json:"name,omitempty" yaml:"name,omitempty"`
	Description     string        `json:"description,omitempty" yaml:"description,omitempty"`
	Signals         Signals       `json:"signals" yaml:"signals"`
	MinMatchSignals int           `json:"minMatchSignals" yaml:"min_match_signals,omitempty"`
	Insight         types.Insight `json:"insight" yaml:"insight"`
	HitCount        int           `json:"hitCount" yaml:"hit_count,omitempty"`
	LastHit         *time.Time    `json:"lastHit,omitempty" yaml:"last_hit,omitempty"`
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	CreatedAt       time.Time     `json:"createdAt" yaml:"created_at,omitempty"`
}

// Label is the name when set, the ID otherwise.
func (p KnownPattern) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Validate checks the record invariants.
func (p KnownPattern) Validate() error {
	n := p.Signals.Defined()
	if n == 0 {
		return fmt.Errorf("%w: %s: no signals defined", ErrInvalidPattern, p.Label())
	}
	if p.MinMatchSignals < 1 || p.MinMatchSignals > n {
		return fmt.Errorf("%w: %s: minMatchSignals %d outside [1,%d]", ErrInvalidPattern, p.Label(), p.MinMatchSignals, n)
	}
	if !p.Insight.Outcome.Valid() {
		return fmt.Errorf("%w: %s: outcome %q", ErrInvalidPattern, p.Label(), p.Insight.Outcome)
	}
	if p.Insight.Plan != nil {
		for i, st := range p.Insight.Plan.Steps {
			if !st.Risk.Declared() {
				return fmt.Errorf("%w: %s: step %d (%s) declares no risk", ErrInvalidPattern, p.Label(), i+1, st.ActionType)
			}
		}
	}
	return nil
}

// clone returns a copy that shares nothing mutable with p.
func (p KnownPattern) clone() KnownPattern {
	out := p
	out.Insight = p.Insight.Clone()
	if p.LastHit != nil {
		t := *p.LastHit
		out.LastHit = &t
	}
	return out
}

// =============================================================================
// MIN-SIGNAL POLICY
// =============================================================================

// MinSignalPolicy decides MinMatchSignals for patterns authored from events.
type MinSignalPolicy string

const (
	// PolicyPair requires two signals, or one when only one is defined.
	PolicyPair MinSignalPolicy = "pair"
	// PolicyAll requires every defined signal.
	PolicyAll MinSignalPolicy = "all"
)

// MinMatchSignals returns the threshold for a pattern with n defined signals.
func (p MinSignalPolicy) MinMatchSignals(n int) int {
	if n <= 0 {
		return 0
	}
	switch p {
	case PolicyAll:
		return min(max(2, n), n)
	default:
		return min(2, n)
	}
}

// ParseMinSignalPolicy accepts "pair" and "all"; empty means pair.
func ParseMinSignalPolicy(s string) (MinSignalPolicy, error) {
	switch MinSignalPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPair:
		return PolicyPair, nil
	case PolicyAll:
		return PolicyAll, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

// PatternFromEvent drafts a pattern from an observed condition and the
// insight a human or the gateway attached to it. The page URL contributes its
// path only so that hosts and query strings do not over-fit the record.
func PatternFromEvent(ev *types.ConditionEvent, insight types.Insight, policy MinSignalPolicy) KnownPattern {
	sig := Signals{
		LocatorContains:   ev.Locator.Value,
		ExceptionContains: ev.ResolvedExceptionType(),
	}
	if ev.Type != "" && ev.Type != types.ConditionUnknown {
		sig.ConditionType = ev.Type
	}
	if path := urlPath(ev.CurrentURL); path != "" && path != "/" {
		sig.URLContains = path
	}

	in := insight.Clone()
	in.Normalize()
	return KnownPattern{
		ID:              uuid.NewString(),
		Name:            fmt.Sprintf("%s on %s", in.Category, firstNonEmpty(sig.URLContains, ev.Locator.Value, string(ev.Type))),
		Signals:         sig,
		MinMatchSignals: policy.MinMatchSignals(sig.Defined()),
		Insight:         in,
		Enabled:         true,
		CreatedAt:       time.Now().UTC(),
	}
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return "unknown"
}
