package checker

import (
	"context"
	"fmt"
	"strings"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

// LoadingChecker matches while a spinner, skeleton or busy region is rendered.
type LoadingChecker struct{}

func (LoadingChecker) Name() string  { return "loading" }
func (LoadingChecker) Priority() int { return 50 }

func (LoadingChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	loaders := visibleMatches(documentOf(ctx, live, ev), loaderSelectors)
	if len(loaders) == 0 {
		return NoMatch, nil
	}
	evidence := make([]string, 0, len(loaders))
	for _, sel := range loaders {
		evidence = append(evidence, "visible loading indicator "+sel)
	}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryTimingIssue,
			RootCause:  "the page is still loading; the step ran before content was ready",
			Confidence: 0.7,
			Transient:  true,
			Outcome:    types.OutcomeRetry,
			Evidence:   evidence,
			Plan: plan("wait for the loading indicator to disappear", types.Step{
				ID:         "wait-loaded",
				ActionType: types.ActionWait,
				Params: map[string]any{
					"duration_ms":  2000,
					"until_hidden": loaders[0],
				},
				Confidence: 0.7,
				Risk:       types.RiskLow,
				Rationale:  "waiting has no side effects",
			}),
		},
	}, nil
}

// OverlayChecker matches a modal, backdrop or consent banner covering the page.
type OverlayChecker struct{}

func (OverlayChecker) Name() string  { return "overlay" }
func (OverlayChecker) Priority() int { return 60 }

// removeOverlaysScript strips common overlay containers and the body classes
// that lock scrolling.
const removeOverlaysScript = `
const sels = %s;
let removed = 0;
for (const s of sels) {
	for (const el of document.querySelectorAll(s)) { el.remove(); removed++; }
}
document.body.classList.remove(%s);
document.body.style.overflow = '';
return removed;`

func (OverlayChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	doc := documentOf(ctx, live, ev)
	evidence := overlayEvidence(doc)
	if len(evidence) == 0 {
		return NoMatch, nil
	}

	conf := 0.85
	var byClass, byElement bool
	for _, e := range evidence {
		if strings.HasPrefix(e, "body has class") {
			byClass = true
		} else {
			byElement = true
		}
	}
	if byClass && byElement {
		conf = 0.9
	}

	closers := visibleMatches(doc, closeSelectors)
	if len(closers) == 0 {
		closers = append([]string(nil), closeSelectors...)
	}
	if target, ok := ev.Locator.CSS(); ok && looksLikeCloser(target) && !contains(closers, target) {
		closers = append([]string{target}, closers...)
	}
	params := map[string]any{"close_selectors": toAny(closers)}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryOverlayBlocking,
			RootCause:  "an overlay is covering the page and intercepting interaction",
			Confidence: conf,
			Transient:  true,
			Outcome:    types.OutcomeRetry,
			Evidence:   evidence,
			Plan: plan("close the overlay, removing it if it will not close",
				types.Step{
					ID:         "dismiss",
					ActionType: types.ActionDismissOverlay,
					Params:     params,
					Confidence: 0.8,
					Risk:       types.RiskLow,
					Rationale:  "clicking a close control is what a user would do",
					OnSuccess:  "settle",
				},
				types.Step{
					ID:         "remove",
					ActionType: types.ActionExecuteScript,
					Params:     map[string]any{"script": removeOverlays},
					Confidence: 0.6,
					Risk:       types.RiskMedium,
					Rationale:  "removing DOM nodes can hide a real defect",
				},
				types.Step{
					ID:         "settle",
					ActionType: types.ActionWait,
					Params:     map[string]any{"duration_ms": 300},
					Confidence: 0.9,
					Risk:       types.RiskLow,
					Rationale:  "let close animations finish",
				},
			),
		},
	}, nil
}

var removeOverlays = func() string {
	sels := make([]string, 0, len(overlaySelectors))
	for _, s := range overlaySelectors {
		sels = append(sels, jsString(s))
	}
	classes := make([]string, 0, len(bodyOverlayClasses))
	for _, c := range bodyOverlayClasses {
		classes = append(classes, jsString(c))
	}
	return strings.TrimSpace(fmt.Sprintf(removeOverlaysScript, "["+strings.Join(sels, ", ")+"]", strings.Join(classes, ", ")))
}()

func jsString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

var closerMarkers = []string{"close", "dismiss", "accept", "consent", "agree", "got-it", "cookie"}

func looksLikeCloser(sel string) bool {
	lower := strings.ToLower(sel)
	for _, m := range closerMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// TimeoutChecker matches a wait that expired with no loader left to explain it.
type TimeoutChecker struct{}

func (TimeoutChecker) Name() string  { return "timeout" }
func (TimeoutChecker) Priority() int { return 70 }

func (TimeoutChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	exc := ev.ResolvedExceptionType()
	if ev.Type != types.ConditionTimeout && !strings.Contains(strings.ToLower(exc), "timeout") {
		return NoMatch, nil
	}
	if len(visibleMatches(documentOf(ctx, live, ev), loaderSelectors)) > 0 {
		return NoMatch, nil
	}
	evidence := []string{"condition type " + string(ev.Type)}
	if exc != "" {
		evidence = append(evidence, "exception type "+exc)
	}
	if ev.Locator.Value != "" {
		n, err := live.VisibleCount(ctx, ev.Locator)
		if err == nil && n > 0 {
			return NoMatch, nil
		}
		evidence = append(evidence, "locator "+ev.Locator.String()+" is still not rendered")
	}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryTimingIssue,
			RootCause:  "the awaited condition did not occur within the step timeout",
			Confidence: 0.55,
			Transient:  true,
			Outcome:    types.OutcomeRetry,
			Evidence:   evidence,
			Plan: plan("give the page more time, then reload it",
				types.Step{
					ID:         "wait-more",
					ActionType: types.ActionWait,
					Params:     map[string]any{"duration_ms": 3000},
					Confidence: 0.55,
					Risk:       types.RiskLow,
					Rationale:  "slow backends often answer shortly after the timeout",
				},
				types.Step{
					ID:         "reload",
					ActionType: types.ActionRefreshPage,
					Confidence: 0.5,
					Risk:       types.RiskMedium,
					Rationale:  "reloading discards unsaved client state",
				},
			),
		},
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func toAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
