package checker

import (
	"context"
	"fmt"
	"strings"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

// =============================================================================
// STALE ELEMENT
// =============================================================================

// StaleElementChecker matches a detached element reference while the locator
// has not yet resolved to a rendered element again. Once it has, a retry will
// re-locate it and the chain declines.
type StaleElementChecker struct{}

func (StaleElementChecker) Name() string  { return "stale-element" }
func (StaleElementChecker) Priority() int { return 30 }

var staleMessageMarkers = []string{"stale element", "not attached to the page", "detached from the dom", "element is not attached"}

func (StaleElementChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	evidence := staleSignals(ev)
	if len(evidence) == 0 {
		return NoMatch, nil
	}
	if ev.Locator.Value != "" {
		n, err := live.VisibleCount(ctx, ev.Locator)
		if err == nil && n > 0 {
			return NoMatch, nil
		}
		if err == nil {
			evidence = append(evidence, "locator "+ev.Locator.String()+" has no rendered match yet")
		}
	}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryStaleElement,
			RootCause:  "the page re-rendered and the element reference held by the test is no longer attached",
			Confidence: 0.8,
			Transient:  true,
			Outcome:    types.OutcomeRetry,
			Evidence:   evidence,
			Plan: plan("wait for the re-render to settle, then re-locate", types.Step{
				ID:         "settle",
				ActionType: types.ActionWait,
				Params:     map[string]any{"duration_ms": 500},
				Confidence: 0.75,
				Risk:       types.RiskLow,
				Rationale:  "re-rendering is usually complete within a frame or two",
			}),
		},
	}, nil
}

func staleSignals(ev *types.ConditionEvent) []string {
	var out []string
	if ev.Type == types.ConditionStaleElement {
		out = append(out, "condition type is "+string(ev.Type))
	}
	if exc := ev.ResolvedExceptionType(); strings.Contains(exc, "StaleElement") {
		out = append(out, "exception type "+exc)
	}
	msg := strings.ToLower(ev.Message)
	for _, m := range staleMessageMarkers {
		if strings.Contains(msg, m) {
			out = append(out, fmt.Sprintf("message mentions %q", m))
			break
		}
	}
	return out
}

// =============================================================================
// FRAME CONTEXT
// =============================================================================

// FrameContextChecker matches a missing element while the driver is focused on
// the top document and the page embeds rendered iframes.
type FrameContextChecker struct{}

func (FrameContextChecker) Name() string  { return "frame-context" }
func (FrameContextChecker) Priority() int { return 40 }

func (FrameContextChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	if live.InFrame() || ev.Type != types.ConditionElementNotFound || ev.Locator.Value == "" {
		return NoMatch, nil
	}
	n, err := live.Count(ctx, ev.Locator)
	if err != nil {
		return NoMatch, err
	}
	if n > 0 {
		return NoMatch, nil
	}
	frames := iframeSelectors(documentOf(ctx, live, ev))
	if len(frames) == 0 {
		return NoMatch, nil
	}

	conf := 0.6
	if len(frames) > 1 {
		conf = 0.45
	}
	evidence := []string{
		"locator " + ev.Locator.String() + " has no match in the top document",
		fmt.Sprintf("%d rendered iframe(s): %s", len(frames), strings.Join(frames, ", ")),
	}
	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryFrameContext,
			RootCause:  "the element most likely lives inside an iframe the test has not switched into",
			Confidence: conf,
			Transient:  false,
			Outcome:    types.OutcomeRetry,
			Evidence:   evidence,
			Plan: plan("switch into the embedded frame", types.Step{
				ID:                   "switch-frame",
				ActionType:           types.ActionSwitchToFrame,
				Params:               map[string]any{"selector": frames[0]},
				Confidence:           conf,
				Risk:                 types.RiskLow,
				Rationale:            "switching frame context does not change page state",
				RequiresVerification: true,
			}),
		},
	}, nil
}

// =============================================================================
// HIDDEN ELEMENT
// =============================================================================

// HiddenElementChecker matches when the locator resolves but nothing it
// resolves to is rendered. Elements that are merely scrolled away get a
// SCROLL_INTO_VIEW plan; anything hidden on purpose is reported, not forced.
type HiddenElementChecker struct{}

func (HiddenElementChecker) Name() string  { return "hidden-element" }
func (HiddenElementChecker) Priority() int { return 90 }

func (HiddenElementChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	if ev.Locator.Value == "" {
		return NoMatch, nil
	}
	total, err := live.Count(ctx, ev.Locator)
	if err != nil || total == 0 {
		return NoMatch, err
	}
	visible, err := live.VisibleCount(ctx, ev.Locator)
	if err != nil || visible > 0 {
		return NoMatch, err
	}
	reasons, err := live.HiddenReasons(ctx, ev.Locator)
	if err != nil {
		return NoMatch, err
	}

	conf := 0.5 + 0.15*float64(len(reasons))
	if conf > 0.95 {
		conf = 0.95
	}
	evidence := append([]string{fmt.Sprintf("%d element(s) match %s, none rendered", total, ev.Locator)}, reasons...)
	in := types.Insight{
		Category:   types.CategoryElementHidden,
		RootCause:  "the element exists but is not rendered: " + joinOr(reasons, "no static reason found"),
		Confidence: conf,
		Transient:  false,
		Outcome:    types.OutcomeFailWithContext,
		Evidence:   evidence,
	}
	if len(reasons) > 0 && onlyLayoutReasons(reasons) {
		in.RootCause = "the element is rendered outside the viewport: " + strings.Join(reasons, "; ")
		in.Transient = true
		in.Outcome = types.OutcomeRetry
		in.Plan = plan("scroll the element into view", types.Step{
			ID:         "scroll",
			ActionType: types.ActionScrollIntoView,
			Confidence: conf,
			Risk:       types.RiskLow,
			Rationale:  "scrolling only changes the viewport",
		})
	}
	return MatchResult{Matched: true, Insight: in}, nil
}

var layoutReasonMarkers = []string{"off-screen", "zero or near-zero size"}

func onlyLayoutReasons(reasons []string) bool {
	for _, r := range reasons {
		lower := strings.ToLower(r)
		layout := false
		for _, m := range layoutReasonMarkers {
			if strings.Contains(lower, m) {
				layout = true
				break
			}
		}
		if !layout {
			return false
		}
	}
	return true
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, "; ")
}
