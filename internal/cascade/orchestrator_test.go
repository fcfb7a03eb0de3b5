package cascade

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testnerd/internal/actions"
	"testnerd/internal/browser"
	"testnerd/internal/browser/browsertest"
	"testnerd/internal/checker"
	"testnerd/internal/executor"
	"testnerd/internal/gateway"
	"testnerd/internal/knowledge"
	"testnerd/internal/types"
)

// =============================================================================
// FAKES
// =============================================================================

type stubChecker struct {
	name string
	fn   func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error)
}

func (s stubChecker) Name() string  { return s.name }
func (s stubChecker) Priority() int { return 1 }
func (s stubChecker) Check(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
	return s.fn(ctx, live, ev)
}

// always matches with the given outcome and plan.
func always(outcome types.Outcome, steps ...types.Step) stubChecker {
	return stubChecker{name: "always", fn: func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
		res := checker.MatchResult{Matched: true, Insight: types.Insight{
			Category:   types.CategoryTimingIssue,
			RootCause:  "never settles",
			Confidence: 0.6,
			Outcome:    outcome,
		}}
		if len(steps) > 0 {
			res.Plan = &types.RemediationPlan{Steps: append([]types.Step(nil), steps...), Confidence: 0.6}
		}
		return res, nil
	}}
}

func never() stubChecker {
	return stubChecker{name: "never", fn: func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
		return checker.NoMatch, nil
	}}
}

type recordingSink struct {
	mu     sync.Mutex
	events []*types.ConditionEvent
	err    error
}

func (s *recordingSink) Record(ctx context.Context, ev *types.ConditionEvent) (knowledge.UnknownRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return knowledge.UnknownRecord{}, s.err
	}
	s.events = append(s.events, ev)
	return knowledge.UnknownRecord{Hash: knowledge.DedupHash(ev), HitCount: len(s.events), Status: knowledge.UnknownNew}, nil
}

type panickingKB struct{}

func (panickingKB) FindBestMatch(ev *types.ConditionEvent) (knowledge.Match, bool) { panic("kb exploded") }
func (panickingKB) RecordHit(id string)                                            {}

func waitStep(id string) types.Step {
	return types.Step{ID: id, ActionType: types.ActionWait, Risk: types.RiskLow, Params: map[string]any{"duration_ms": 1}}
}

func failingGateway(delay time.Duration) gateway.Gateway {
	return gateway.Func(func(ctx context.Context, content string) (*types.Insight, error) {
		time.Sleep(delay)
		return nil, errors.New("service unavailable")
	})
}

func assertTerminal(t *testing.T, in types.Insight) {
	t.Helper()
	assert.Equal(t, types.CategoryUnknown, in.Category)
	assert.Zero(t, in.Confidence)
	assert.Equal(t, types.OutcomeInvestigate, in.Outcome)
	assert.Nil(t, in.Plan)
}

var unknownEvent = &types.ConditionEvent{
	Type:        types.ConditionAssertionFailed,
	Message:     "expected total 42.00, got 41.99",
	CurrentURL:  "https://shop.test/cart",
	DOMSnapshot: "<html><body><p id='total'>41.99</p></body></html>",
}

// =============================================================================
// TESTS
// =============================================================================

func TestRun_OverlayResolvedInOneRound(t *testing.T) {
	page := browsertest.New("https://shop.test/",
		`<html><body class="modal-open"><div id="banner"><button id="banner-close">Accept</button></div><button id="buy">Buy</button></body></html>`)
	page.OnClick = func(p *browsertest.Page, loc types.Locator) {
		p.HTMLBody = `<html><body><button id="buy">Buy</button></body></html>`
	}
	ev := &types.ConditionEvent{
		Type:       types.ConditionElementNotInteractable,
		Message:    "element click intercepted",
		CurrentURL: "https://shop.test/",
		Locator:    types.Locator{Strategy: types.LocatorCSS, Value: "#banner-close"},
	}
	ev = browser.Refresh(context.Background(), page, ev)

	res := New(Config{Gateway: failingGateway(0)}).Run(context.Background(), page, ev)

	require.Len(t, res.Rounds, 1)
	round := res.Rounds[0]
	assert.Equal(t, types.SourceLocalChecker, round.Source)
	assert.Equal(t, "overlay", round.Matcher)
	assert.Equal(t, types.CategoryOverlayBlocking, round.Insight.Category)
	require.NotEmpty(t, round.Outcomes)
	assert.Equal(t, types.ActionDismissOverlay, round.Outcomes[0].ActionType)
	assert.Equal(t, types.StepExecuted, round.Outcomes[0].Status)
	assert.True(t, round.Resolved)
	assert.Equal(t, StopResolved, round.StopReason)
	assert.Contains(t, round.PageChange, "DOM lines")
	assert.NotContains(t, round.PageChange, "url")
	assert.True(t, res.Resolved())
	assert.Equal(t, 1, round.Depth)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, res.RunID, round.RunID)
}

func TestRun_StopsAtMaxDepth(t *testing.T) {
	page := browsertest.New("https://shop.test/", "<html><body></body></html>")
	o := New(Config{Chain: checker.NewChain(always(types.OutcomeRetry, waitStep("w"))), MaxDepth: 3})

	res := o.Run(context.Background(), page, &types.ConditionEvent{Type: types.ConditionTimeout})

	require.Len(t, res.Rounds, 3)
	for i, round := range res.Rounds {
		assert.Equal(t, i+1, round.Depth)
		assert.False(t, round.Resolved)
		assert.Equal(t, types.SourceLocalChecker, round.Source)
		require.Len(t, round.Outcomes, 1)
		assert.Equal(t, types.StepExecuted, round.Outcomes[0].Status)
	}
	assert.Empty(t, res.Rounds[0].StopReason)
	assert.Equal(t, StopMaxDepth, res.Final().StopReason)
	assert.False(t, res.Resolved())
}

func TestRun_DefaultDepthIsThree(t *testing.T) {
	o := New(Config{Chain: checker.NewChain(always(types.OutcomeRetry))})
	assert.Equal(t, 3, o.MaxDepth())
	res := o.Run(context.Background(), nil, &types.ConditionEvent{Type: types.ConditionTimeout})
	assert.Len(t, res.Rounds, 3)
}

func TestRun_StopOutcomes(t *testing.T) {
	for _, outcome := range []types.Outcome{types.OutcomeSkip, types.OutcomeFailWithContext, types.OutcomeContinue, types.OutcomeInvestigate} {
		t.Run(string(outcome), func(t *testing.T) {
			o := New(Config{Chain: checker.NewChain(always(outcome))})
			res := o.Run(context.Background(), nil, &types.ConditionEvent{Type: types.ConditionTimeout})
			require.Len(t, res.Rounds, 1)
			assert.Equal(t, "outcome: "+string(outcome), res.Final().StopReason)
		})
	}
}

func TestRun_OutcomeOverrideStops(t *testing.T) {
	mark := types.Step{ActionType: types.ActionMarkOutcome, Risk: types.RiskLow, Params: map[string]any{"outcome": "SKIP", "reason": "feature flag off"}}
	o := New(Config{Chain: checker.NewChain(always(types.OutcomeRetry, mark))})

	res := o.Run(context.Background(), nil, &types.ConditionEvent{Type: types.ConditionTimeout})

	require.Len(t, res.Rounds, 1)
	assert.Equal(t, types.OutcomeRetry, res.Rounds[0].Insight.Outcome)
	assert.Equal(t, types.OutcomeSkip, res.Rounds[0].EffectiveOutcome())
	assert.Equal(t, "outcome: SKIP", res.Final().StopReason)
}

func TestRun_GatewayFailureIsTerminal(t *testing.T) {
	o := New(Config{Chain: checker.NewChain(never()), Gateway: failingGateway(5 * time.Millisecond)})

	res := o.Run(context.Background(), nil, unknownEvent)

	require.Len(t, res.Rounds, 1)
	final := res.Final()
	assert.Equal(t, types.SourceFallbackError, final.Source)
	assertTerminal(t, final.Insight)
	assert.Contains(t, final.Insight.RootCause, "service unavailable")
	assert.GreaterOrEqual(t, final.GatewayLatency, 5*time.Millisecond)
	assert.False(t, final.Resolved)
}

func TestRun_GatewayTimeout(t *testing.T) {
	slow := gateway.Func(func(ctx context.Context, content string) (*types.Insight, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	o := New(Config{Chain: checker.NewChain(never()), Gateway: slow, GatewayTimeout: 20 * time.Millisecond})

	res := o.Run(context.Background(), nil, unknownEvent)
	assert.Equal(t, types.SourceFallbackError, res.Final().Source)
	assert.Contains(t, res.Final().Insight.RootCause, context.DeadlineExceeded.Error())
}

func TestRun_RemoteAnalysis(t *testing.T) {
	var got string
	gw := gateway.Func(func(ctx context.Context, content string) (*types.Insight, error) {
		got = content
		return &types.Insight{
			Category:   types.CategoryDataIssue,
			RootCause:  "rounding differs between cart and pricing service",
			Confidence: 1.7,
			Outcome:    types.OutcomeFailWithContext,
		}, nil
	})
	o := New(Config{Chain: checker.NewChain(never()), Gateway: gw})

	res := o.Run(context.Background(), nil, unknownEvent)

	require.Len(t, res.Rounds, 1)
	final := res.Final()
	assert.Equal(t, types.SourceRemoteAnalysis, final.Source)
	assert.Equal(t, types.CategoryDataIssue, final.Insight.Category)
	assert.Equal(t, 1.0, final.Insight.Confidence, "confidence is clamped")
	assert.Contains(t, got, "## Condition Type\nASSERTION_FAILED")
	assert.Contains(t, got, "expected total 42.00")
}

func TestRun_NoGatewayConfigured(t *testing.T) {
	res := New(Config{Chain: checker.NewChain(never())}).Run(context.Background(), nil, unknownEvent)
	assert.Equal(t, types.SourceFallbackError, res.Final().Source)
	assertTerminal(t, res.Final().Insight)
}

func TestRun_KnowledgeBaseMatch(t *testing.T) {
	store := knowledge.NewStore(filepath.Join(t.TempDir(), "patterns.json"))
	p, err := store.Add(knowledge.KnownPattern{
		Name:            "cart rounding",
		Signals:         knowledge.Signals{URLContains: "/cart", MessageContains: "expected total"},
		MinMatchSignals: 2,
		Enabled:         true,
		Insight: types.Insight{
			Category:   types.CategoryApplicationError,
			RootCause:  "known rounding bug",
			Confidence: 0.9,
			Outcome:    types.OutcomeFailWithContext,
		},
	})
	require.NoError(t, err)

	called := false
	gw := gateway.Func(func(ctx context.Context, content string) (*types.Insight, error) {
		called = true
		return nil, errors.New("should not be called")
	})
	res := New(Config{Chain: checker.NewChain(never()), Knowledge: store, Gateway: gw}).Run(context.Background(), nil, unknownEvent)

	require.Len(t, res.Rounds, 1)
	assert.Equal(t, types.SourceKnowledgeBase, res.Final().Source)
	assert.Equal(t, "cart rounding", res.Final().Matcher)
	assert.Equal(t, "known rounding bug", res.Final().Insight.RootCause)
	assert.False(t, called)

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, p.ID, all[0].ID)
	assert.Equal(t, 1, all[0].HitCount)
	assert.NotNil(t, all[0].LastHit)
}

func TestRun_OfflineRecordsUnknown(t *testing.T) {
	sink := &recordingSink{}
	called := false
	gw := gateway.Func(func(ctx context.Context, content string) (*types.Insight, error) {
		called = true
		return nil, nil
	})
	o := New(Config{Chain: checker.NewChain(never()), Unknowns: sink, Gateway: gw, Offline: true})

	res := o.Run(context.Background(), nil, unknownEvent)

	require.Len(t, res.Rounds, 1)
	final := res.Final()
	assert.Equal(t, types.SourceUnknownRecorded, final.Source)
	assertTerminal(t, final.Insight)
	assert.False(t, final.Resolved)
	assert.False(t, called)
	require.Len(t, sink.events, 1)
	assert.Same(t, unknownEvent, sink.events[0])

	t.Run("sink failure", func(t *testing.T) {
		o := New(Config{Chain: checker.NewChain(never()), Unknowns: &recordingSink{err: errors.New("disk full")}, Offline: true})
		res := o.Run(context.Background(), nil, unknownEvent)
		assert.Equal(t, types.SourceFallbackError, res.Final().Source)
	})

	t.Run("no sink", func(t *testing.T) {
		res := New(Config{Chain: checker.NewChain(never()), Offline: true}).Run(context.Background(), nil, unknownEvent)
		assert.Equal(t, types.SourceFallbackError, res.Final().Source)
	})
}

func TestRun_NeverPanics(t *testing.T) {
	boom := stubChecker{name: "boom", fn: func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
		panic("checker exploded")
	}}
	erring := stubChecker{name: "erring", fn: func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
		return checker.NoMatch, errors.New("checker failed")
	}}
	panicGW := gateway.Func(func(ctx context.Context, content string) (*types.Insight, error) {
		panic("gateway exploded")
	})

	tests := []struct {
		name string
		cfg  Config
		live browser.LiveState
		ev   *types.ConditionEvent
	}{
		{"everything fails", Config{Chain: checker.NewChain(boom, erring), Gateway: panicGW}, nil, unknownEvent},
		{"knowledge base panics", Config{Chain: checker.NewChain(boom), Knowledge: panickingKB{}, Gateway: panicGW}, nil, unknownEvent},
		{"failing page", Config{Chain: checker.NewChain(boom), Gateway: failingGateway(0)}, brokenPage(), unknownEvent},
		{"nil event", Config{}, nil, nil},
		{"empty event", Config{Gateway: panicGW}, nil, &types.ConditionEvent{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() {
				res = New(tt.cfg).Run(context.Background(), tt.live, tt.ev)
			})
			require.NotEmpty(t, res.Rounds)
			final := res.Final()
			assert.Equal(t, types.SourceFallbackError, final.Source)
			assertTerminal(t, final.Insight)
			assert.NotEmpty(t, final.StopReason)
		})
	}
}

func brokenPage() *browsertest.Page {
	page := browsertest.New("https://shop.test/", "<html></html>")
	boom := errors.New("target closed")
	page.Errs = map[string]error{"CurrentURL": boom, "HTML": boom, "Count": boom, "VisibleCount": boom, "AlertOpen": boom}
	return page
}

func TestRun_HandlerPanicIsIsolated(t *testing.T) {
	reg, err := actions.NewRegistryWith(&actions.Func{
		Name: "EXPLODE",
		Fn: func(ctx context.Context, hc *actions.HandlerContext, step types.Step) types.StepOutcome {
			panic("handler exploded")
		},
	})
	require.NoError(t, err)
	step := types.Step{ActionType: "EXPLODE", Risk: types.RiskLow}
	o := New(Config{Chain: checker.NewChain(always(types.OutcomeRetry, step)), Executor: executor.New(reg), MaxDepth: 2})

	res := o.Run(context.Background(), nil, &types.ConditionEvent{Type: types.ConditionTimeout})

	require.Len(t, res.Rounds, 2)
	for _, round := range res.Rounds {
		require.Len(t, round.Outcomes, 1)
		assert.Equal(t, types.StepFailed, round.Outcomes[0].Status)
		assert.ErrorIs(t, round.Outcomes[0].Err, executor.ErrHandlerPanic)
	}
}

func TestRun_RiskCeilingGatesSteps(t *testing.T) {
	page := browsertest.New("https://shop.test/", "<html><body></body></html>")
	refresh := types.Step{ActionType: types.ActionRefreshPage, Risk: types.RiskMedium}
	o := New(Config{Chain: checker.NewChain(always(types.OutcomeRetry, waitStep("w"), refresh)), MaxDepth: 1})

	res := o.Run(context.Background(), page, &types.ConditionEvent{Type: types.ConditionTimeout})

	require.Len(t, res.Rounds, 1)
	outs := res.Rounds[0].Outcomes
	require.Len(t, outs, 2)
	assert.Equal(t, types.StepExecuted, outs[0].Status)
	assert.Equal(t, types.StepSkipped, outs[1].Status)
	assert.NotContains(t, page.Calls(), "Refresh")
}

func TestRun_RebuildsEventBetweenRounds(t *testing.T) {
	page := browsertest.New("https://shop.test/a", "<html><body></body></html>")

	var (
		mu   sync.Mutex
		seen []string
	)
	watch := stubChecker{name: "watch", fn: func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
		mu.Lock()
		seen = append(seen, ev.CurrentURL)
		mu.Unlock()
		return always(types.OutcomeRetry).fn(ctx, live, ev)
	}}

	var priors []int
	reg, err := actions.NewRegistryWith(&actions.Func{
		Name: "GO_B",
		Fn: func(ctx context.Context, hc *actions.HandlerContext, step types.Step) types.StepOutcome {
			priors = append(priors, len(hc.PriorRounds))
			if err := hc.Live.Navigate(ctx, "https://shop.test/b"); err != nil {
				return types.Failed(err)
			}
			return types.Executed("moved")
		},
	})
	require.NoError(t, err)

	plan := types.Step{ActionType: "GO_B", Risk: types.RiskLow}
	chain := checker.NewChain(stubChecker{name: "watch", fn: func(ctx context.Context, live browser.Reader, ev *types.ConditionEvent) (checker.MatchResult, error) {
		res, err := watch.fn(ctx, live, ev)
		res.Plan = &types.RemediationPlan{Steps: []types.Step{plan}}
		return res, err
	}})
	o := New(Config{Chain: chain, Executor: executor.New(reg), MaxDepth: 2})

	start := &types.ConditionEvent{Type: types.ConditionTimeout, CurrentURL: "https://shop.test/a"}
	res := o.Run(context.Background(), page, start)

	require.Len(t, res.Rounds, 2)
	assert.Equal(t, []int{0, 1}, priors)
	// round 1 diagnose, round 1 verify, round 2 diagnose, round 2 verify
	assert.Equal(t, []string{"https://shop.test/a", "https://shop.test/b", "https://shop.test/b", "https://shop.test/b"}, seen)
	assert.Equal(t, "https://shop.test/a", start.CurrentURL, "the caller's event is never modified")
}

func TestResult_FinalWithoutRounds(t *testing.T) {
	final := Result{RunID: "r"}.Final()
	assert.Equal(t, types.SourceFallbackError, final.Source)
	assertTerminal(t, final.Insight)
}
