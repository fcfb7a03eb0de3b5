package checker

import (
	"context"
	"fmt"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

// WrongPageChecker matches when the page is not where the test expected it to
// be. A redirect to a login page is left to SessionExpiredChecker.
type WrongPageChecker struct{}

func (WrongPageChecker) Name() string  { return "wrong-page" }
func (WrongPageChecker) Priority() int { return 20 }

func (WrongPageChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	if ev.ExpectedURL == "" {
		return NoMatch, nil
	}
	current := urlOf(ctx, live, ev)
	if current == "" || sameLocation(current, ev.ExpectedURL) {
		return NoMatch, nil
	}
	if looksLikeLoginURL(current) && !looksLikeLoginURL(ev.ExpectedURL) {
		return NoMatch, nil
	}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryWrongPage,
			RootCause:  fmt.Sprintf("browser is on %s but the step expected %s", current, ev.ExpectedURL),
			Confidence: 0.85,
			Transient:  false,
			Outcome:    types.OutcomeRetry,
			Evidence: []string{
				"current url: " + current,
				"expected url: " + ev.ExpectedURL,
			},
			Plan: plan("navigate back to the expected page", types.Step{
				ID:                   "navigate-expected",
				ActionType:           types.ActionNavigateTo,
				Params:               map[string]any{"url": ev.ExpectedURL},
				Confidence:           0.8,
				Risk:                 types.RiskLow,
				Rationale:            "the expected page is known and navigation is idempotent",
				RequiresVerification: true,
			}),
		},
	}, nil
}

// SessionExpiredChecker matches when the application has bounced the test
// to a login form. Re-authenticating needs credentials the engine does not
// hold, so no plan is offered.
type SessionExpiredChecker struct{}

func (SessionExpiredChecker) Name() string  { return "session-expired" }
func (SessionExpiredChecker) Priority() int { return 25 }

func (SessionExpiredChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	current := urlOf(ctx, live, ev)
	if ev.ExpectedURL != "" && looksLikeLoginURL(ev.ExpectedURL) {
		// the test is exercising the login page itself
		return NoMatch, nil
	}

	var evidence []string
	if looksLikeLoginURL(current) {
		evidence = append(evidence, "current url is a login page: "+current)
	}
	doc := documentOf(ctx, live, ev)
	if hasVisibleLoginForm(doc) {
		evidence = append(evidence, "a password field is visible")
	}
	if len(evidence) == 0 {
		return NoMatch, nil
	}
	if mentionsSession(ev) {
		evidence = append(evidence, "failure message mentions the session: "+ev.Message)
	} else if len(evidence) < 2 {
		// a lone password field is not enough
		return NoMatch, nil
	}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategorySessionExpired,
			RootCause:  "the user session ended and the application redirected to sign-in",
			Confidence: 0.75,
			Transient:  false,
			Outcome:    types.OutcomeFailWithContext,
			Evidence:   evidence,
		},
	}, nil
}
