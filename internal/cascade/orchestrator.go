// Package cascade runs the bounded diagnose, remediate, verify loop.
//
// Each round takes exactly one Insight from the first source that produces
// one: the checker chain, then the knowledge base, then the remote gateway
// (or, offline, the unknown-condition sink). The round's plan is executed
// under the risk ceiling, and the chain is re-run against the refreshed page
// to decide whether the condition went away.
//
//	ConditionEvent → Checker Chain ─┐
//	                 Knowledge Base ─┼→ Insight → Executor → Verify → CascadeRound
//	                 Gateway/Sink ──┘
//
// Run never panics and never returns an error. Every internal failure ends
// the history with a FALLBACK_ERROR round carrying an UNKNOWN, zero
// confidence, INVESTIGATE insight.
package cascade

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"testnerd/internal/actions"
	"testnerd/internal/browser"
	"testnerd/internal/checker"
	"testnerd/internal/diff"
	"testnerd/internal/executor"
	"testnerd/internal/gateway"
	"testnerd/internal/knowledge"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// DefaultMaxDepth bounds the number of rounds when Config.MaxDepth is unset.
const DefaultMaxDepth = 3

// Stop reasons recorded on the last round.
const (
	StopResolved = "resolved"
	StopOutcome  = "outcome"
	StopMaxDepth = "max depth reached"
	StopInternal = "internal error"
)

// PatternSource is the knowledge-base surface the orchestrator needs.
// *knowledge.Store satisfies it.
type PatternSource interface {
	FindBestMatch(ev *types.ConditionEvent) (knowledge.Match, bool)
	RecordHit(id string)
}

// Config wires an Orchestrator. Every collaborator except Executor is optional.
type Config struct {
	Chain     *checker.Chain
	Knowledge PatternSource
	Gateway   gateway.Gateway
	Unknowns  knowledge.UnknownSink
	Executor  *executor.Executor

	// Offline records unrecognized conditions instead of calling the gateway.
	Offline bool

	MaxDepth       int
	GatewayTimeout time.Duration
	Format         gateway.FormatOptions
}

// Orchestrator runs cascades. One instance serves one execution context;
// it holds no per-run state, so sequential runs may share it.
type Orchestrator struct {
	chain          *checker.Chain
	knowledge      PatternSource
	gateway        gateway.Gateway
	unknowns       knowledge.UnknownSink
	executor       *executor.Executor
	offline        bool
	maxDepth       int
	gatewayTimeout time.Duration
	format         gateway.FormatOptions
}

// New creates an orchestrator. A nil chain means the built-in checkers; a nil
// executor means the built-in handlers under the default LOW ceiling.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		chain:          cfg.Chain,
		knowledge:      cfg.Knowledge,
		gateway:        cfg.Gateway,
		unknowns:       cfg.Unknowns,
		executor:       cfg.Executor,
		offline:        cfg.Offline,
		maxDepth:       cfg.MaxDepth,
		gatewayTimeout: cfg.GatewayTimeout,
		format:         cfg.Format,
	}
	if o.chain == nil {
		o.chain = checker.Default()
	}
	if o.executor == nil {
		reg, err := actions.Default()
		if err != nil {
			logging.CascadeError("built-in handlers unavailable: %v", err)
			reg = actions.NewRegistry()
		}
		o.executor = executor.New(reg)
	}
	if o.maxDepth < 1 {
		o.maxDepth = DefaultMaxDepth
	}
	if o.format == (gateway.FormatOptions{}) {
		o.format = gateway.DefaultFormatOptions()
	}
	return o
}

// MaxDepth returns the configured round limit.
func (o *Orchestrator) MaxDepth() int { return o.maxDepth }

// Result is the complete history of one cascade run.
type Result struct {
	RunID  string               `json:"run_id"`
	Rounds []types.CascadeRound `json:"rounds"`
}

// Final returns the last round. Every Result has at least one.
func (r Result) Final() types.CascadeRound {
	if len(r.Rounds) == 0 {
		return types.CascadeRound{RunID: r.RunID, Source: types.SourceFallbackError,
			Insight: types.TerminalInsight("cascade produced no rounds")}
	}
	return r.Rounds[len(r.Rounds)-1]
}

// Resolved reports whether any round verified the condition gone.
func (r Result) Resolved() bool {
	for _, round := range r.Rounds {
		if round.Resolved {
			return true
		}
	}
	return false
}

// Run diagnoses ev and attempts recovery on live. live may be nil, in which
// case checkers read the captured snapshot and every handler that needs the
// page fails.
func (o *Orchestrator) Run(ctx context.Context, live browser.LiveState, ev *types.ConditionEvent) (res Result) {
	res.RunID = uuid.NewString()
	log := logging.WithRequestID(logging.CategoryCascade, res.RunID)
	timer := logging.StartTimer(logging.CategoryCascade, "Orchestrator.Run")
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			log.Error("cascade panicked: %v\n%s", r, debug.Stack())
			res.Rounds = append(res.Rounds, fallbackRound(res.RunID, len(res.Rounds)+1, fmt.Sprintf("internal error: %v", r)))
		}
	}()

	if ev == nil {
		log.Warn("cascade started without a condition event")
		res.Rounds = append(res.Rounds, fallbackRound(res.RunID, 1, "no condition event to diagnose"))
		return res
	}
	log.Info("cascade started for %s at %s (max depth %d)", ev.Type, ev.CurrentURL, o.maxDepth)

	current := ev
	for depth := 1; depth <= o.maxDepth; depth++ {
		round, next := o.safeRound(ctx, res.RunID, depth, live, current, res.Rounds)

		switch outcome := round.EffectiveOutcome(); {
		case round.StopReason == StopInternal:
			// already terminal
		case round.Resolved:
			round.StopReason = StopResolved
		case outcome.StopsCascade():
			round.StopReason = fmt.Sprintf("%s: %s", StopOutcome, outcome)
		case depth == o.maxDepth:
			round.StopReason = StopMaxDepth
			log.Warn("max depth %d reached without resolution", o.maxDepth)
		}
		res.Rounds = append(res.Rounds, round)
		log.Info("round %d: %s via %s, outcome %s, resolved=%v",
			depth, round.Insight.Category, round.Source, round.EffectiveOutcome(), round.Resolved)

		if round.StopReason != "" {
			break
		}
		current = next
	}
	return res
}

// safeRound runs one round, converting a panic into a terminal round.
func (o *Orchestrator) safeRound(ctx context.Context, runID string, depth int, live browser.LiveState,
	ev *types.ConditionEvent, prior []types.CascadeRound) (round types.CascadeRound, next *types.ConditionEvent) {
	defer func() {
		if r := recover(); r != nil {
			logging.CascadeError("round %d panicked: %v\n%s", depth, r, debug.Stack())
			round = fallbackRound(runID, depth, fmt.Sprintf("internal error: %v", r))
			round.StopReason = StopInternal
			next = ev
		}
	}()
	return o.round(ctx, runID, depth, live, ev, prior)
}

func (o *Orchestrator) round(ctx context.Context, runID string, depth int, live browser.LiveState,
	ev *types.ConditionEvent, prior []types.CascadeRound) (types.CascadeRound, *types.ConditionEvent) {
	round := types.CascadeRound{RunID: runID, Depth: depth}

	// Diagnose.
	d := o.diagnose(ctx, live, ev)
	round.Source = d.source
	round.Matcher = d.matcher
	round.Insight = d.insight
	round.GatewayLatency = d.latency

	// Remediate.
	if plan := round.Insight.Plan; plan != nil && len(plan.Steps) > 0 {
		hc := &actions.HandlerContext{
			Live:        live,
			Event:       ev,
			PriorRounds: append([]types.CascadeRound(nil), prior...),
		}
		exec := o.executor.Execute(ctx, plan, hc)
		round.Outcomes = exec.Outcomes
		round.Halted = exec.Halted
		round.LoopGuardTripped = exec.LoopGuardTripped
	}

	// Verify. Fallback and recorded-unknown rounds attempted nothing, so
	// there is nothing to verify.
	next := ev
	if live != nil {
		next = browser.Refresh(ctx, live, ev)
		if next != ev {
			if change := diff.Page(ev, next); change.Changed() {
				round.PageChange = change.String()
			}
		}
	}
	if d.source != types.SourceFallbackError && d.source != types.SourceUnknownRecorded {
		if m, still := o.chain.Evaluate(ctx, o.reader(live, next), next); still {
			logging.Cascade("round %d unresolved: %s still matches", depth, m.Checker)
		} else {
			round.Resolved = true
		}
	}
	return round, next
}

// =============================================================================
// DIAGNOSIS
// =============================================================================

type diagnosis struct {
	source  types.Source
	matcher string
	insight types.Insight
	latency time.Duration
}

func (o *Orchestrator) diagnose(ctx context.Context, live browser.LiveState, ev *types.ConditionEvent) diagnosis {
	if m, ok := o.chain.Evaluate(ctx, o.reader(live, ev), ev); ok {
		return diagnosis{source: types.SourceLocalChecker, matcher: m.Checker, insight: m.Result.Insight.Clone()}
	}

	if o.knowledge != nil {
		if m, ok := o.knowledge.FindBestMatch(ev); ok {
			o.knowledge.RecordHit(m.Pattern.ID)
			in := m.Pattern.Insight.Clone()
			in.Normalize()
			return diagnosis{source: types.SourceKnowledgeBase, matcher: m.Pattern.Label(), insight: in}
		}
	}

	if o.offline {
		return o.recordUnknown(ctx, ev)
	}
	return o.analyze(ctx, ev)
}

func (o *Orchestrator) recordUnknown(ctx context.Context, ev *types.ConditionEvent) diagnosis {
	if o.unknowns == nil {
		return fallback("offline with no unknown-condition sink configured")
	}
	rec, err := o.unknowns.Record(ctx, ev)
	if err != nil {
		logging.CascadeError("recording unknown condition failed: %v", err)
		return fallback(fmt.Sprintf("recording unknown condition failed: %v", err))
	}
	in := types.TerminalInsight(fmt.Sprintf("unrecognized %s recorded for review (%s, seen %d times)",
		ev.Type, shortHash(rec.Hash), rec.HitCount))
	return diagnosis{source: types.SourceUnknownRecorded, matcher: rec.Hash, insight: in}
}

func (o *Orchestrator) analyze(ctx context.Context, ev *types.ConditionEvent) (d diagnosis) {
	if o.gateway == nil {
		return fallback("no analysis gateway configured")
	}
	if o.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.gatewayTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.GatewayError("gateway panicked: %v", r)
			d = fallback(fmt.Sprintf("remote analysis failed: %v", r))
		}
		d.latency = time.Since(start)
	}()

	in, err := o.gateway.Analyze(ctx, gateway.FormatEvent(ev, o.format))
	if err != nil {
		logging.GatewayError("remote analysis failed after %v: %v", time.Since(start), err)
		return fallback(fmt.Sprintf("remote analysis failed: %v", err))
	}
	if in == nil {
		return fallback("remote analysis returned no insight")
	}
	insight := in.Clone()
	insight.Normalize()
	return diagnosis{source: types.SourceRemoteAnalysis, insight: insight}
}

// reader picks what checkers read: the live page, or the event's snapshot.
func (o *Orchestrator) reader(live browser.LiveState, ev *types.ConditionEvent) browser.Reader {
	if live != nil {
		return live
	}
	snap, err := browser.NewSnapshotState(ev)
	if err != nil {
		logging.CascadeWarn("snapshot unusable, checking against an empty page: %v", err)
		snap, _ = browser.NewSnapshotState(&types.ConditionEvent{Type: ev.Type, CurrentURL: ev.CurrentURL})
	}
	return snap
}

func fallback(reason string) diagnosis {
	return diagnosis{source: types.SourceFallbackError, insight: types.TerminalInsight(reason)}
}

func fallbackRound(runID string, depth int, reason string) types.CascadeRound {
	return types.CascadeRound{
		RunID:      runID,
		Depth:      depth,
		Source:     types.SourceFallbackError,
		Insight:    types.TerminalInsight(reason),
		StopReason: StopInternal,
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
