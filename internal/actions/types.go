// Package actions provides the handlers that carry out remediation steps
// against a live page, and the registry that resolves a step's action type
// to its handler.
//
// Handlers are registered explicitly at startup; there is no discovery.
//
//	Step.ActionType → Registry.Find() → Handler.Handle(ctx, hc, step)
package actions

import (
	"context"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

// HandlerContext is what a handler may read and act on.
type HandlerContext struct {
	// Live is the page under test. It is nil when replaying a capture
	// without a browser.
	Live browser.LiveState

	// Event is the condition being remediated.
	Event *types.ConditionEvent

	// PriorRounds are the completed rounds of the current cascade.
	PriorRounds []types.CascadeRound

	// DryRun asks handlers to report what they would do and change nothing.
	DryRun bool
}

// Handler performs one action type. Handle never returns an error: failures
// are reported as a FAILED outcome carrying the error.
type Handler interface {
	ActionType() string
	Handle(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome
}

// HandleFunc is the signature of a function-backed handler.
type HandleFunc func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome

// Func adapts a function into a Handler.
type Func struct {
	Name        string
	Description string
	Fn          HandleFunc
}

// ActionType returns the registered name.
func (f *Func) ActionType() string { return f.Name }

// Handle calls the wrapped function.
func (f *Func) Handle(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
	return f.Fn(ctx, hc, step)
}
