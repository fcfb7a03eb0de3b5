package actions

import (
	"fmt"
	"time"

	"testnerd/internal/types"
)

// Step parameters are schema-less at the plan boundary. Each handler converts
// them into one of these structs before doing anything.

const (
	defaultWait = time.Second
	maxWait     = 30 * time.Second
	pollEvery   = 100 * time.Millisecond
)

// target resolves the element a step acts on: an explicit "selector" (CSS)
// or "xpath" parameter, else the event's locator.
func target(step types.Step, ev *types.ConditionEvent) (types.Locator, error) {
	if sel := types.ParamString(step.Params, "selector"); sel != "" {
		return types.Locator{Strategy: types.LocatorCSS, Value: sel}, nil
	}
	if xp := types.ParamString(step.Params, "xpath"); xp != "" {
		return types.Locator{Strategy: types.LocatorXPath, Value: xp}, nil
	}
	if ev != nil && ev.Locator.Value != "" {
		return ev.Locator, nil
	}
	return types.Locator{}, ErrNoTarget
}

type overlayParams struct {
	CloseSelectors []string
}

func parseOverlayParams(step types.Step) overlayParams {
	sels := types.ParamStrings(step.Params, "close_selectors")
	if sel := types.ParamString(step.Params, "selector"); sel != "" {
		sels = append([]string{sel}, sels...)
	}
	return overlayParams{CloseSelectors: sels}
}

type alertParams struct {
	PromptText string
}

func parseAlertParams(step types.Step) alertParams {
	return alertParams{PromptText: types.ParamString(step.Params, "prompt_text")}
}

type navigateParams struct {
	URL string
}

func parseNavigateParams(step types.Step, ev *types.ConditionEvent) (navigateParams, error) {
	u := types.ParamString(step.Params, "url")
	if u == "" && ev != nil {
		u = ev.ExpectedURL
	}
	if u == "" {
		return navigateParams{}, fmt.Errorf("%w: url", types.ErrMissingParam)
	}
	return navigateParams{URL: u}, nil
}

type waitParams struct {
	Duration     time.Duration
	UntilHidden  string
	UntilVisible string
}

func parseWaitParams(step types.Step) (waitParams, error) {
	key := "duration_ms"
	if _, ok := step.Params[key]; !ok {
		key = "duration"
	}
	d, err := types.ParamDuration(step.Params, key, defaultWait)
	if err != nil {
		return waitParams{}, err
	}
	if d < 0 {
		d = 0
	}
	if d > maxWait {
		d = maxWait
	}
	return waitParams{
		Duration:     d,
		UntilHidden:  types.ParamString(step.Params, "until_hidden"),
		UntilVisible: types.ParamString(step.Params, "until_visible"),
	}, nil
}

type scriptParams struct {
	Script string
}

func parseScriptParams(step types.Step) (scriptParams, error) {
	s, err := types.RequireString(step.Params, "script")
	if err != nil {
		return scriptParams{}, err
	}
	return scriptParams{Script: s}, nil
}

type frameParams struct {
	Frame types.Locator
}

func parseFrameParams(step types.Step) (frameParams, error) {
	if sel := types.ParamString(step.Params, "selector"); sel != "" {
		return frameParams{Frame: types.Locator{Strategy: types.LocatorCSS, Value: sel}}, nil
	}
	if name := types.ParamString(step.Params, "name"); name != "" {
		return frameParams{Frame: types.Locator{Strategy: types.LocatorName, Value: name}}, nil
	}
	return frameParams{}, fmt.Errorf("%w: selector", types.ErrMissingParam)
}

type markParams struct {
	Outcome types.Outcome
	Reason  string
}

func parseMarkParams(step types.Step) (markParams, error) {
	raw, err := types.RequireString(step.Params, "outcome")
	if err != nil {
		return markParams{}, err
	}
	o := types.Outcome(NormalizeActionType(raw))
	if !o.Valid() {
		return markParams{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
	}
	return markParams{Outcome: o, Reason: types.ParamString(step.Params, "reason")}, nil
}
