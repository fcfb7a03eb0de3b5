package checker

import (
	"context"
	"strings"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

// AlertChecker recognizes an open JavaScript dialog. It runs first: while a
// dialog is open every other page query fails.
type AlertChecker struct{}

func (AlertChecker) Name() string  { return "alert" }
func (AlertChecker) Priority() int { return 10 }

var confirmMarkers = []string{"are you sure", "confirm", "discard", "leave this page", "delete", "unsaved"}

func (AlertChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (MatchResult, error) {
	open, text, err := live.AlertOpen(ctx)
	if err != nil {
		return NoMatch, err
	}
	if !open {
		return NoMatch, nil
	}

	// Confirmation prompts are dismissed: accepting one may commit something
	// the test never asked for.
	step := types.Step{
		ID:         "close-dialog",
		ActionType: types.ActionAcceptAlert,
		Confidence: 0.9,
		Risk:       types.RiskLow,
		Rationale:  "informational dialog blocks page interaction",
	}
	lower := strings.ToLower(text)
	for _, m := range confirmMarkers {
		if strings.Contains(lower, m) {
			step.ActionType = types.ActionDismissAlert
			step.Rationale = "confirmation dialog; dismissing avoids committing an unintended action"
			break
		}
	}

	return MatchResult{
		Matched: true,
		Insight: types.Insight{
			Category:   types.CategoryAlertPresent,
			RootCause:  "an unexpected JavaScript dialog is open: " + quoteOrEmpty(text),
			Confidence: 0.95,
			Transient:  true,
			Outcome:    types.OutcomeRetry,
			Evidence:   []string{"dialog text: " + quoteOrEmpty(text)},
			Plan:       plan("close the open dialog", step),
		},
	}, nil
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return `"` + s + `"`
}
