package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testnerd/internal/types"
)

const overlayResponse = `{
  "category": "OVERLAY_BLOCKING",
  "rootCause": "Cookie consent banner covers the checkout button",
  "confidence": 0.82,
  "evidenceHighlights": ["div.cookie-banner is fixed and full width", "  "],
  "isTransient": true,
  "suggestedTestOutcome": "RETRY",
  "actionPlan": {
    "summary": "Accept cookies then retry",
    "confidence": 0.75,
    "requiresHuman": false,
    "actions": [
      {"id": "accept", "type": "dismiss overlay", "description": "Click accept", "confidence": 0.8,
       "risk": "LOW", "rationale": "banner has an accept button", "requiresVerification": true,
       "parameters": {"close_selectors": ["#accept-all"]}, "onFailure": "remove"},
      {"id": "remove", "type": "EXECUTE_SCRIPT", "description": "Remove banner", "confidence": 0.5,
       "risk": "medium", "rationale": "fallback", "requiresVerification": false,
       "parameters": {"script": "document.querySelector('.cookie-banner').remove()"}}
    ]
  }
}`

func TestParseInsight_Valid(t *testing.T) {
	in, err := ParseInsight(overlayResponse)
	require.NoError(t, err)

	assert.Equal(t, types.CategoryOverlayBlocking, in.Category)
	assert.Equal(t, "Cookie consent banner covers the checkout button", in.RootCause)
	assert.InDelta(t, 0.82, in.Confidence, 1e-9)
	assert.True(t, in.Transient)
	assert.Equal(t, types.OutcomeRetry, in.Outcome)
	assert.Equal(t, []string{"div.cookie-banner is fixed and full width"}, in.Evidence)

	require.NotNil(t, in.Plan)
	assert.Equal(t, "Accept cookies then retry", in.Plan.Summary)
	require.Len(t, in.Plan.Steps, 2)

	first := in.Plan.Steps[0]
	assert.Equal(t, "accept", first.ID)
	assert.Equal(t, "dismiss overlay", first.ActionType)
	assert.Equal(t, types.RiskLow, first.Risk)
	assert.True(t, first.RequiresVerification)
	assert.Equal(t, "remove", first.OnFailure)
	assert.Equal(t, []any{"#accept-all"}, first.Params["close_selectors"])

	assert.Equal(t, types.RiskMedium, in.Plan.Steps[1].Risk)
}

func TestParseInsight_CodeFence(t *testing.T) {
	in, err := ParseInsight("```json\n" + overlayResponse + "\n```")
	require.NoError(t, err)
	assert.Equal(t, types.CategoryOverlayBlocking, in.Category)
}

func TestParseInsight_ContinueDropsPlan(t *testing.T) {
	in, err := ParseInsight(`{
		"category": "DATA_ISSUE", "rootCause": "optional promo row absent", "confidence": 0.6,
		"isTransient": false, "suggestedTestOutcome": "continue",
		"continueContext": {"reason": "row is optional", "resumeHint": "next step", "caveats": ["promo untested"]},
		"actionPlan": {"summary": "x", "actions": [{"type": "WAIT", "risk": "LOW"}]}
	}`)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeContinue, in.Outcome)
	assert.Nil(t, in.Plan)
	require.NotNil(t, in.ContinueContext)
	assert.Equal(t, "row is optional", in.ContinueContext.Reason)
	assert.Equal(t, []string{"promo untested"}, in.ContinueContext.Caveats)
}

func TestParseInsight_PlanConfidenceDefaultsToWeakestStep(t *testing.T) {
	in, err := ParseInsight(`{
		"category": "TIMING_ISSUE", "rootCause": "slow search", "confidence": 0.7,
		"isTransient": true, "suggestedTestOutcome": "RETRY",
		"actionPlan": {"summary": "wait", "actions": [
			{"type": "WAIT", "risk": "LOW", "confidence": 0.9},
			{"type": "REFRESH_PAGE", "risk": "MEDIUM", "confidence": 0.4}
		]}
	}`)
	require.NoError(t, err)
	require.NotNil(t, in.Plan)
	assert.InDelta(t, 0.4, in.Plan.Confidence, 1e-9)
}

func TestParseInsight_EmptyActionsMeansNoPlan(t *testing.T) {
	in, err := ParseInsight(`{"category": "UNKNOWN", "rootCause": "unclear", "confidence": 0.1,
		"suggestedTestOutcome": "INVESTIGATE", "actionPlan": {"summary": "none", "actions": []}}`)
	require.NoError(t, err)
	assert.Nil(t, in.Plan)
}

func TestParseInsight_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "   ", ErrEmptyResponse},
		{"not json", "The overlay is blocking.", ErrMalformedResponse},
		{"prose around json", `Sure! {"category": "UNKNOWN"}`, ErrMalformedResponse},
		{"trailing object", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0, "suggestedTestOutcome": "SKIP"} {}`, ErrMalformedResponse},
		{"unknown field", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0, "suggestedTestOutcome": "SKIP", "mood": "happy"}`, ErrMalformedResponse},
		{"wrong type", `{"category": "UNKNOWN", "rootCause": "x", "confidence": "high", "suggestedTestOutcome": "SKIP"}`, ErrMalformedResponse},
		{"missing category", `{"rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "SKIP"}`, ErrSchemaViolation},
		{"unknown category", `{"category": "GREMLINS", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "SKIP"}`, ErrSchemaViolation},
		{"blank root cause", `{"category": "UNKNOWN", "rootCause": " ", "confidence": 0.5, "suggestedTestOutcome": "SKIP"}`, ErrSchemaViolation},
		{"missing confidence", `{"category": "UNKNOWN", "rootCause": "x", "suggestedTestOutcome": "SKIP"}`, ErrSchemaViolation},
		{"confidence above one", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 1.5, "suggestedTestOutcome": "SKIP"}`, ErrSchemaViolation},
		{"negative confidence", `{"category": "UNKNOWN", "rootCause": "x", "confidence": -0.1, "suggestedTestOutcome": "SKIP"}`, ErrSchemaViolation},
		{"unknown outcome", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "PANIC"}`, ErrSchemaViolation},
		{"missing outcome", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5}`, ErrSchemaViolation},
		{"action without type", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "RETRY",
			"actionPlan": {"actions": [{"risk": "LOW"}]}}`, ErrSchemaViolation},
		{"action without risk", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "RETRY",
			"actionPlan": {"actions": [{"type": "WAIT"}]}}`, ErrSchemaViolation},
		{"action with bad risk", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "RETRY",
			"actionPlan": {"actions": [{"type": "WAIT", "risk": "EXTREME"}]}}`, ErrSchemaViolation},
		{"action confidence out of range", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "RETRY",
			"actionPlan": {"actions": [{"type": "WAIT", "risk": "LOW", "confidence": 2}]}}`, ErrSchemaViolation},
		{"plan confidence out of range", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "RETRY",
			"actionPlan": {"confidence": 7, "actions": [{"type": "WAIT", "risk": "LOW"}]}}`, ErrSchemaViolation},
		{"unknown action field", `{"category": "UNKNOWN", "rootCause": "x", "confidence": 0.5, "suggestedTestOutcome": "RETRY",
			"actionPlan": {"actions": [{"type": "WAIT", "risk": "LOW", "danger": true}]}}`, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInsight(tt.body)
			assert.Nil(t, in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEnumValue(t *testing.T) {
	assert.Equal(t, "FAIL_WITH_CONTEXT", enumValue(" fail with-context "))
	assert.Equal(t, "ELEMENT_NOT_VISIBLE", enumValue("element_not_visible"))
}
