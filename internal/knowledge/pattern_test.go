package knowledge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"testnerd/internal/types"
)

var (
	urlPool       = []string{"", "/checkout", "/cart", "/login"}
	locatorPool   = []string{"", "#pay", "#banner-close", ".item"}
	exceptionPool = []string{"", "NoSuchElement", "Timeout", "StaleElement"}
	domPool       = []string{"", "modal-open", "maintenance"}
	typePool      = []types.ConditionType{"", types.ConditionElementNotFound, types.ConditionTimeout}
	messagePool   = []string{"", "intercepted", "no such element"}
)

func drawSignals(rt *rapid.T, label string) Signals {
	return Signals{
		URLContains:       rapid.SampledFrom(urlPool).Draw(rt, label+"-url"),
		LocatorContains:   rapid.SampledFrom(locatorPool).Draw(rt, label+"-locator"),
		ExceptionContains: rapid.SampledFrom(exceptionPool).Draw(rt, label+"-exception"),
		DOMContains:       rapid.SampledFrom(domPool).Draw(rt, label+"-dom"),
		ConditionType:     rapid.SampledFrom(typePool).Draw(rt, label+"-type"),
		MessageContains:   rapid.SampledFrom(messagePool).Draw(rt, label+"-message"),
	}
}

func drawEvent(rt *rapid.T) *types.ConditionEvent {
	return &types.ConditionEvent{
		Type:          rapid.SampledFrom(typePool[1:]).Draw(rt, "ev-type"),
		CurrentURL:    "https://shop.test" + rapid.SampledFrom(urlPool).Draw(rt, "ev-url"),
		Locator:       types.Locator{Value: rapid.SampledFrom(locatorPool).Draw(rt, "ev-locator")},
		ExceptionType: rapid.SampledFrom(exceptionPool).Draw(rt, "ev-exception") + "Exception",
		DOMSnapshot:   "<body class=\"" + rapid.SampledFrom(domPool).Draw(rt, "ev-dom") + "\"></body>",
		Message:       rapid.SampledFrom(messagePool).Draw(rt, "ev-message"),
	}
}

func TestFindBestMatch_NeverBelowThreshold(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(rt, "patterns")
		active := make([]KnownPattern, 0, n)
		for i := 0; i < n; i++ {
			sig := drawSignals(rt, "p")
			defined := sig.Defined()
			if defined == 0 {
				continue
			}
			p := pattern("p", rapid.IntRange(0, 20).Draw(rt, "hits"), sig, rapid.IntRange(1, defined).Draw(rt, "min"))
			active = append(active, p)
		}
		s := &Store{now: time.Now}
		s.swap(active)

		ev := drawEvent(rt)
		m, ok := s.FindBestMatch(ev)
		if !ok {
			for _, p := range active {
				score := p.Signals.Score(ev)
				if score > 0 && score >= p.MinMatchSignals {
					rt.Fatalf("pattern with score %d >= %d was not returned", score, p.MinMatchSignals)
				}
			}
			return
		}
		score := m.Pattern.Signals.Score(ev)
		if score != m.Score {
			rt.Fatalf("reported score %d, actual %d", m.Score, score)
		}
		if score < m.Pattern.MinMatchSignals || score == 0 {
			rt.Fatalf("score %d below threshold %d", score, m.Pattern.MinMatchSignals)
		}
		for _, p := range active {
			other := p.Signals.Score(ev)
			if other >= p.MinMatchSignals && other > score {
				rt.Fatalf("candidate with score %d beat the winner's %d", other, score)
			}
		}
	})
}

func TestMinSignalPolicy(t *testing.T) {
	tests := []struct {
		policy MinSignalPolicy
		n      int
		want   int
	}{
		{PolicyPair, 0, 0},
		{PolicyPair, 1, 1},
		{PolicyPair, 2, 2},
		{PolicyPair, 5, 2},
		{PolicyAll, 1, 1},
		{PolicyAll, 2, 2},
		{PolicyAll, 5, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.policy.MinMatchSignals(tt.n), "%s n=%d", tt.policy, tt.n)
	}

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "n")
		for _, p := range []MinSignalPolicy{PolicyPair, PolicyAll} {
			got := p.MinMatchSignals(n)
			if got < 1 || got > n {
				rt.Fatalf("%s(%d) = %d outside [1,n]", p, n, got)
			}
		}
	})
}

func TestParseMinSignalPolicy(t *testing.T) {
	p, err := ParseMinSignalPolicy(" ALL ")
	require.NoError(t, err)
	assert.Equal(t, PolicyAll, p)

	p, err = ParseMinSignalPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPair, p)

	_, err = ParseMinSignalPolicy("most")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestPatternFromEvent(t *testing.T) {
	ev := checkoutEvent()
	in := types.Insight{Category: types.CategoryEnvironment, RootCause: "maintenance window", Confidence: 1.4, Outcome: types.OutcomeSkip}

	p := PatternFromEvent(ev, in, PolicyPair)
	require.NoError(t, p.Validate())
	assert.Equal(t, "/checkout", p.Signals.URLContains)
	assert.Equal(t, "#pay", p.Signals.LocatorContains)
	assert.Equal(t, "NoSuchElementException", p.Signals.ExceptionContains)
	assert.Equal(t, types.ConditionElementNotFound, p.Signals.ConditionType)
	assert.Equal(t, 2, p.MinMatchSignals)
	assert.Equal(t, 1.0, p.Insight.Confidence)
	assert.True(t, p.Enabled)

	all := PatternFromEvent(ev, in, PolicyAll)
	assert.Equal(t, 4, all.MinMatchSignals)

	s := NewStore(filepath.Join(t.TempDir(), "patterns.json"))
	_, err := s.Add(p)
	require.NoError(t, err)
	m, ok := s.FindBestMatch(ev)
	require.True(t, ok)
	assert.Equal(t, 4, m.Score)
}

func TestLoadPatternFile(t *testing.T) {
	dir := t.TempDir()

	yamlList := filepath.Join(dir, "patterns.yaml")
	require.NoError(t, os.WriteFile(yamlList, []byte(`
- name: maintenance page
  signals:
    dom_contains: maintenance
    url_contains: /checkout
  min_match_signals: 2
  insight:
    category: ENVIRONMENT_ISSUE
    root_cause: site is in maintenance mode
    confidence: 0.9
    outcome: SKIP
- name: retired banner
  enabled: false
  signals:
    locator_contains: "#old-banner"
  min_match_signals: 1
  insight:
    category: TEST_DEFECT
    root_cause: banner was removed
    outcome: FAIL_WITH_CONTEXT
    plan:
      summary: none
      steps:
        - action_type: WAIT
          risk: MEDIUM
          params:
            duration_ms: 100
`), 0o644))

	got, err := LoadPatternFile(yamlList)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "maintenance", got[0].Signals.DOMContains)
	assert.True(t, got[0].Enabled)
	assert.Equal(t, types.OutcomeSkip, got[0].Insight.Outcome)
	assert.False(t, got[1].Enabled)
	require.NotNil(t, got[1].Insight.Plan)
	assert.Equal(t, types.RiskMedium, got[1].Insight.Plan.Steps[0].Risk)

	single := filepath.Join(dir, "one.json")
	require.NoError(t, os.WriteFile(single, []byte(`{"name":"x","signals":{"urlContains":"/x"},"minMatchSignals":1,"insight":{"category":"UNKNOWN","root_cause":"x","confidence":0,"transient":false,"outcome":"INVESTIGATE"}}`), 0o644))
	got, err = LoadPatternFile(single)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Enabled)
	assert.Equal(t, "/x", got[0].Signals.URLContains)
}
