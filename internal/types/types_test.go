package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvedExceptionType(t *testing.T) {
	tests := []struct {
		name string
		ev   ConditionEvent
		want string
	}{
		{"explicit wins", ConditionEvent{ExceptionType: "TimeoutException", StackTrace: "Other: x"}, "TimeoutException"},
		{"from stack head", ConditionEvent{StackTrace: "NoSuchElementException: no such element\n\tat x"}, "NoSuchElementException"},
		{"prose first line", ConditionEvent{StackTrace: "element not found: #foo"}, ""},
		{"empty", ConditionEvent{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.ResolvedExceptionType())
		})
	}
}

func TestWithLiveState(t *testing.T) {
	ev := &ConditionEvent{
		Type:        ConditionElementNotFound,
		CurrentURL:  "https://shop.test/cart",
		DOMSnapshot: "<html></html>",
		Metadata:    map[string]string{"step": "3"},
		ConsoleLogs: []string{"warn"},
	}

	t.Run("unchanged returns receiver", func(t *testing.T) {
		assert.Same(t, ev, ev.WithLiveState("", ""))
		assert.Same(t, ev, ev.WithLiveState(ev.CurrentURL, ev.DOMSnapshot))
	})

	t.Run("changed returns fresh instance", func(t *testing.T) {
		next := ev.WithLiveState("https://shop.test/login", "")
		require.NotSame(t, ev, next)
		assert.Equal(t, "https://shop.test/login", next.CurrentURL)
		assert.Equal(t, "https://shop.test/cart", ev.CurrentURL)
		assert.Equal(t, ev.DOMSnapshot, next.DOMSnapshot)

		next.Metadata["step"] = "4"
		assert.Equal(t, "3", ev.Metadata["step"])
	})
}

func TestInsightNormalize(t *testing.T) {
	in := Insight{
		Category:   "NOT_A_CATEGORY",
		Confidence: 1.7,
		Outcome:    OutcomeContinue,
		Plan:       &RemediationPlan{Steps: []Step{{ActionType: "WAIT", Confidence: -2}}},
	}
	in.Normalize()

	assert.Equal(t, CategoryUnknown, in.Category)
	assert.Equal(t, 1.0, in.Confidence)
	assert.Nil(t, in.Plan, "CONTINUE must never carry a plan")

	retry := Insight{Category: CategoryTimingIssue, Outcome: "nope", Plan: &RemediationPlan{Steps: []Step{{Confidence: -2}}}}
	retry.Normalize()
	assert.Equal(t, OutcomeInvestigate, retry.Outcome)
	require.NotNil(t, retry.Plan)
	assert.Equal(t, 0.0, retry.Plan.Steps[0].Confidence)
}

func TestInsightCloneIsDeep(t *testing.T) {
	orig := Insight{
		Evidence: []string{"a"},
		Plan: &RemediationPlan{Steps: []Step{{
			ActionType: "NAVIGATE_TO",
			Params:     map[string]any{"url": "https://a.test"},
		}}},
	}
	c := orig.Clone()
	c.Evidence[0] = "b"
	c.Plan.Steps[0].Params["url"] = "https://b.test"

	assert.Equal(t, "a", orig.Evidence[0])
	assert.Equal(t, "https://a.test", orig.Plan.Steps[0].Params["url"])
}

func TestRiskTierJSON(t *testing.T) {
	var s Step
	require.NoError(t, json.Unmarshal([]byte(`{"action_type":"WAIT","risk":"medium"}`), &s))
	assert.Equal(t, RiskMedium, s.Risk)

	err := json.Unmarshal([]byte(`{"action_type":"WAIT","risk":"EXTREME"}`), &s)
	assert.ErrorIs(t, err, ErrInvalidRiskTier)

	out, err := json.Marshal(Step{ActionType: "WAIT", Risk: RiskHigh})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"risk":"HIGH"`)

	var missing Step
	require.NoError(t, json.Unmarshal([]byte(`{"action_type":"WAIT"}`), &missing))
	assert.Equal(t, RiskUnset, missing.Risk)
	assert.False(t, missing.Risk.Declared())

	out, err = json.Marshal(missing)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"risk":""`)
	var back Step
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, RiskUnset, back.Risk)
}

func TestRiskTierExceeds(t *testing.T) {
	tests := []struct {
		tier    RiskTier
		ceiling RiskTier
		want    bool
	}{
		{RiskLow, RiskLow, false},
		{RiskMedium, RiskLow, true},
		{RiskMedium, RiskHigh, false},
		{RiskUnset, RiskLow, true},
		{RiskUnset, RiskHigh, true},
		{RiskTier(9), RiskHigh, true},
	}
	for _, tt := range tests {
		t.Run(tt.tier.String()+"/"+tt.ceiling.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tier.Exceeds(tt.ceiling))
		})
	}
}

func TestEffectiveOutcome(t *testing.T) {
	skip := OutcomeSkip
	fail := OutcomeFailWithContext
	r := CascadeRound{Insight: Insight{Outcome: OutcomeRetry}}
	assert.Equal(t, OutcomeRetry, r.EffectiveOutcome())

	r.Outcomes = []StepOutcome{{OutcomeOverride: &skip}, {}, {OutcomeOverride: &fail}}
	assert.Equal(t, OutcomeFailWithContext, r.EffectiveOutcome())
}

func TestLocatorCSS(t *testing.T) {
	tests := []struct {
		loc  Locator
		want string
		ok   bool
	}{
		{Locator{Strategy: LocatorCSS, Value: ".btn"}, ".btn", true},
		{Locator{Strategy: LocatorID, Value: "banner-close"}, "#banner-close", true},
		{Locator{Strategy: LocatorName, Value: "email"}, `[name="email"]`, true},
		{Locator{Strategy: LocatorXPath, Value: "//div"}, "", false},
		{Locator{}, "", false},
	}
	for _, tt := range tests {
		got, ok := tt.loc.CSS()
		assert.Equal(t, tt.ok, ok, tt.loc.String())
		assert.Equal(t, tt.want, got, tt.loc.String())
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"url":     "https://a.test",
		"wait":    float64(1500),
		"timeout": "2s",
		"force":   "true",
		"count":   float64(3),
		"bad":     []string{"x"},
	}

	u, err := RequireString(params, "url")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", u)

	_, err = RequireString(params, "missing")
	assert.ErrorIs(t, err, ErrMissingParam)

	d, err := ParamDuration(params, "wait", 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = ParamDuration(params, "timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = ParamDuration(params, "absent", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = ParamDuration(params, "bad", 0)
	assert.ErrorIs(t, err, ErrInvalidParamType)

	b, err := ParamBool(params, "force", false)
	require.NoError(t, err)
	assert.True(t, b)

	n, err := ParamInt(params, "count", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
