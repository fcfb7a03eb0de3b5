// Package executor walks a remediation plan, dispatching each step to its
// action handler under a risk ceiling.
//
// Plans are a small graph: an ordered step list plus optional OnSuccess and
// OnFailure jumps by step ID. The walk is bounded by a visit guard of
// 2*len(steps)+10, so a plan whose jumps form a cycle stops instead of
// spinning.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"testnerd/internal/actions"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("handler panicked")

// ErrNoStatus is recorded when a handler returns an outcome without a status.
var ErrNoStatus = errors.New("handler returned no status")

// HandlerFinder resolves action types. *actions.Registry satisfies it.
type HandlerFinder interface {
	Find(actionType string) (actions.Handler, bool)
}

// Result is the record of one plan walk.
type Result struct {
	// Outcomes has one entry per visit, in visit order.
	Outcomes []types.StepOutcome
	// Halted is set when a failed step that required verification stopped the walk.
	Halted bool
	// LoopGuardTripped is set when the visit budget ran out.
	LoopGuardTripped bool
	// Visits counts dispatched steps.
	Visits int
}

// Executor is safe for concurrent use; it holds no per-walk state.
type Executor struct {
	handlers HandlerFinder
	ceiling  types.RiskTier
	dryRun   bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithRiskCeiling sets the highest risk tier that may run. Default LOW.
func WithRiskCeiling(r types.RiskTier) Option {
	return func(e *Executor) { e.ceiling = r }
}

// WithDryRun forces every walk to be a dry run.
func WithDryRun(dry bool) Option {
	return func(e *Executor) { e.dryRun = dry }
}

// New creates an executor dispatching through handlers.
func New(handlers HandlerFinder, opts ...Option) *Executor {
	e := &Executor{handlers: handlers, ceiling: types.RiskLow}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RiskCeiling returns the configured ceiling.
func (e *Executor) RiskCeiling() types.RiskTier { return e.ceiling }

// GuardLimit is the visit budget for a plan of n steps.
func GuardLimit(n int) int { return 2*n + 10 }

// Execute walks plan. It never panics and never returns an error: every
// problem is recorded in the outcomes.
func (e *Executor) Execute(ctx context.Context, plan *types.RemediationPlan, hc *actions.HandlerContext) Result {
	var res Result
	if plan == nil || len(plan.Steps) == 0 {
		return res
	}
	timer := logging.StartTimer(logging.CategoryExecutor, "Executor.Execute")
	defer timer.Stop()

	local := actions.HandlerContext{}
	if hc != nil {
		local = *hc
	}
	local.DryRun = local.DryRun || e.dryRun

	steps := plan.Steps
	index := indexSteps(steps)
	guard := GuardLimit(len(steps))

	cursor := 0
	for cursor >= 0 && cursor < len(steps) {
		if res.Visits >= guard {
			res.LoopGuardTripped = true
			logging.ExecutorWarn("loop guard tripped after %d visits (plan has %d steps)", res.Visits, len(steps))
			break
		}
		res.Visits++

		step := steps[cursor]
		out := e.visit(ctx, &local, step)
		out.Index = cursor
		out.StepID = step.ID
		out.ActionType = step.ActionType
		res.Outcomes = append(res.Outcomes, out)
		logging.ExecutorDebug("step %d %s (%s): %s %s", cursor, stepLabel(step), step.Risk, out.Status, out.Message)

		if out.Status == types.StepFailed && step.RequiresVerification {
			res.Halted = true
			logging.Executor("halting plan: step %s failed and requires verification", stepLabel(step))
			break
		}
		cursor = next(cursor, step, out.Status, index)
	}
	return res
}

func (e *Executor) visit(ctx context.Context, hc *actions.HandlerContext, step types.Step) types.StepOutcome {
	if step.Risk.Exceeds(e.ceiling) {
		if !step.Risk.Declared() {
			return types.Skipped(fmt.Sprintf("risk not declared, ceiling %s", e.ceiling))
		}
		return types.Skipped(fmt.Sprintf("risk %s exceeds ceiling %s", step.Risk, e.ceiling))
	}
	h, ok := e.handlers.Find(step.ActionType)
	if !ok {
		return types.StepOutcome{
			Status:  types.StepNotFound,
			Message: fmt.Sprintf("no handler for action %q", step.ActionType),
			Err:     fmt.Errorf("%w: %s", actions.ErrHandlerNotFound, step.ActionType),
		}
	}
	out := runHandler(ctx, h, hc, step)
	if out.Status == "" {
		return types.Failed(fmt.Errorf("%w: %s", ErrNoStatus, step.ActionType))
	}
	return out
}

func runHandler(ctx context.Context, h actions.Handler, hc *actions.HandlerContext, step types.Step) (out types.StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryExecutor).Error("handler %s panicked: %v\n%s", step.ActionType, r, debug.Stack())
			out = types.Failed(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()
	return h.Handle(ctx, hc, step)
}

// indexSteps maps step IDs to positions. The first step with an ID owns it.
func indexSteps(steps []types.Step) map[string]int {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			continue
		}
		if _, dup := index[s.ID]; dup {
			logging.ExecutorWarn("duplicate step id %q at %d ignored for jumps", s.ID, i)
			continue
		}
		index[s.ID] = i
	}
	return index
}

func next(cursor int, step types.Step, status types.StepStatus, index map[string]int) int {
	target := step.OnFailure
	if status == types.StepExecuted {
		target = step.OnSuccess
	}
	if target == "" {
		return cursor + 1
	}
	if i, ok := index[target]; ok {
		return i
	}
	logging.ExecutorWarn("step %s jumps to unknown id %q, continuing in order", stepLabel(step), target)
	return cursor + 1
}

func stepLabel(s types.Step) string {
	if s.ID != "" {
		return s.ID
	}
	return s.ActionType
}
