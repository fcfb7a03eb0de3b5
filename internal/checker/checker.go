// Package checker implements the local heuristic stage of diagnosis.
//
// A Checker looks at the live page and the captured ConditionEvent and either
// recognizes a known condition, producing an Insight, or declines. The Chain
// evaluates checkers cheapest and most definitive first; the first match wins.
package checker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"testnerd/internal/browser"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// MatchResult is a checker's answer. When Matched is false the insight is ignored.
type MatchResult struct {
	Matched bool
	types.Insight
}

// NoMatch is the zero result.
var NoMatch = MatchResult{}

// Checker is a stateless heuristic. Implementations may read live state but
// must not change it.
type Checker interface {
	Name() string
	// Priority orders evaluation; lower values run first.
	Priority() int
	Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error)
}

// Match is a successful chain evaluation.
type Match struct {
	Checker string
	Result  MatchResult
}

// Chain is an immutable, priority-ordered list of checkers.
type Chain struct {
	checkers []Checker
}

// NewChain sorts checkers by ascending priority. Equal priorities keep their
// argument order.
func NewChain(checkers ...Checker) *Chain {
	sorted := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{checkers: sorted}
}

// Default returns the chain of built-in checkers.
func Default() *Chain {
	return NewChain(Builtins()...)
}

// Builtins returns a fresh instance of every built-in checker.
func Builtins() []Checker {
	return []Checker{
		AlertChecker{},
		WrongPageChecker{},
		SessionExpiredChecker{},
		StaleElementChecker{},
		FrameContextChecker{},
		LoadingChecker{},
		OverlayChecker{},
		TimeoutChecker{},
		HiddenElementChecker{},
	}
}

// Checkers returns the evaluation order.
func (c *Chain) Checkers() []Checker {
	return append([]Checker(nil), c.checkers...)
}

// Len returns the number of checkers.
func (c *Chain) Len() int { return len(c.checkers) }

// Evaluate runs the chain and returns the first match. A checker that errors
// or panics is logged and skipped.
func (c *Chain) Evaluate(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (Match, bool) {
	timer := logging.StartTimer(logging.CategoryChecker, "Chain.Evaluate")
	defer timer.Stop()

	view := newPageView(live, ev)
	for _, chk := range c.checkers {
		res, err := runChecker(ctx, chk, view, ev)
		if err != nil {
			logging.CheckerWarn("checker %s skipped: %v", chk.Name(), err)
			continue
		}
		if !res.Matched {
			logging.CheckerDebug("checker %s: no match", chk.Name())
			continue
		}
		res.Insight.Normalize()
		logging.Checker("checker %s matched: %s (confidence=%.2f, outcome=%s)",
			chk.Name(), res.Category, res.Confidence, res.Outcome)
		return Match{Checker: chk.Name(), Result: res}, true
	}
	return Match{}, false
}

func runChecker(ctx context.Context, chk Checker, live browser.Reader, ev *types.ConditionEvent) (res MatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryChecker).Debug("checker %s panic stack:\n%s", chk.Name(), debug.Stack())
			res, err = NoMatch, fmt.Errorf("%w: %v", ErrCheckerPanic, r)
		}
	}()
	return chk.Check(ctx, live, ev)
}
