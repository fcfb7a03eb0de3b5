package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"testnerd/internal/browser"
	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Builtins returns one instance of every built-in handler.
func Builtins() []Handler {
	return []Handler{
		dismissOverlay(),
		acceptAlert(),
		dismissAlert(),
		refreshPage(),
		navigateBack(),
		navigateTo(),
		wait(),
		executeScript(),
		scrollIntoView(),
		click(),
		switchToFrame(),
		switchToDefault(),
		clearCookies(),
		markOutcome(),
	}
}

// live runs do against the page unless the step is a dry run. intent reads
// as the object of "would": "reload the page".
func live(hc *HandlerContext, intent string, do func(browser.LiveState) (string, error)) types.StepOutcome {
	if hc.DryRun {
		logging.ActionsDebug("dry run: %s", intent)
		return types.Skipped("dry run: would " + intent)
	}
	if hc.Live == nil {
		return types.Failed(fmt.Errorf("%s: %w", intent, ErrNoLiveState))
	}
	msg, err := do(hc.Live)
	if err != nil {
		return types.Failed(fmt.Errorf("%s: %w", intent, err))
	}
	logging.Actions("%s", msg)
	return types.Executed(msg)
}

// invalid reports unusable step parameters. Dry runs skip instead of failing.
func invalid(hc *HandlerContext, err error) types.StepOutcome {
	if hc.DryRun {
		return types.Skipped("dry run: would fail: " + err.Error())
	}
	return types.Failed(err)
}

// =============================================================================
// OVERLAYS AND DIALOGS
// =============================================================================

var defaultCloseSelectors = []string{
	"[data-dismiss=modal]",
	"[data-bs-dismiss=modal]",
	".btn-close",
	".modal .close",
	"[aria-label=Close]",
	"#onetrust-accept-btn-handler",
	".cookie-accept",
}

func dismissOverlay() Handler {
	return &Func{
		Name:        types.ActionDismissOverlay,
		Description: "Click the first visible close control of a blocking overlay",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p := parseOverlayParams(step)
			if len(p.CloseSelectors) == 0 {
				p.CloseSelectors = defaultCloseSelectors
			}
			intent := "click the first visible of " + strings.Join(p.CloseSelectors, ", ")
			return live(hc, intent, func(page browser.LiveState) (string, error) {
				var lastErr error
				for _, sel := range p.CloseSelectors {
					loc := types.Locator{Strategy: types.LocatorCSS, Value: sel}
					n, err := page.VisibleCount(ctx, loc)
					if err != nil || n == 0 {
						continue
					}
					if err := page.Click(ctx, loc); err != nil {
						logging.ActionsDebug("close control %s not clickable: %v", sel, err)
						lastErr = err
						continue
					}
					return "clicked close control " + sel, nil
				}
				if lastErr != nil {
					return "", fmt.Errorf("%w: %w", ErrNothingToDismiss, lastErr)
				}
				return "", ErrNothingToDismiss
			})
		},
	}
}

func acceptAlert() Handler {
	return &Func{
		Name:        types.ActionAcceptAlert,
		Description: "Accept the open JavaScript dialog",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p := parseAlertParams(step)
			return live(hc, "accept the open dialog", func(page browser.LiveState) (string, error) {
				open, text, err := page.AlertOpen(ctx)
				if err != nil {
					return "", err
				}
				if !open {
					return "", browser.ErrNoAlert
				}
				if err := page.AcceptAlert(ctx, p.PromptText); err != nil {
					return "", err
				}
				return fmt.Sprintf("accepted dialog %q", text), nil
			})
		},
	}
}

func dismissAlert() Handler {
	return &Func{
		Name:        types.ActionDismissAlert,
		Description: "Dismiss the open JavaScript dialog",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			return live(hc, "dismiss the open dialog", func(page browser.LiveState) (string, error) {
				open, text, err := page.AlertOpen(ctx)
				if err != nil {
					return "", err
				}
				if !open {
					return "", browser.ErrNoAlert
				}
				if err := page.DismissAlert(ctx); err != nil {
					return "", err
				}
				return fmt.Sprintf("dismissed dialog %q", text), nil
			})
		},
	}
}

// =============================================================================
// NAVIGATION
// =============================================================================

func refreshPage() Handler {
	return &Func{
		Name:        types.ActionRefreshPage,
		Description: "Reload the current page",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			return live(hc, "reload the page", func(page browser.LiveState) (string, error) {
				return "page reloaded", page.Refresh(ctx)
			})
		},
	}
}

func navigateBack() Handler {
	return &Func{
		Name:        types.ActionNavigateBack,
		Description: "Go back one entry in history",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			return live(hc, "navigate back", func(page browser.LiveState) (string, error) {
				if err := page.Back(ctx); err != nil {
					return "", err
				}
				u, _ := page.CurrentURL(ctx)
				return "navigated back to " + u, nil
			})
		},
	}
}

func navigateTo() Handler {
	return &Func{
		Name:        types.ActionNavigateTo,
		Description: "Load a URL; defaults to the URL the test expected",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p, err := parseNavigateParams(step, hc.Event)
			if err != nil {
				return invalid(hc, err)
			}
			return live(hc, "navigate to "+p.URL, func(page browser.LiveState) (string, error) {
				return "navigated to " + p.URL, page.Navigate(ctx, p.URL)
			})
		},
	}
}

func clearCookies() Handler {
	return &Func{
		Name:        types.ActionClearCookies,
		Description: "Clear all browser cookies",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			return live(hc, "clear cookies", func(page browser.LiveState) (string, error) {
				return "cookies cleared", page.ClearCookies(ctx)
			})
		},
	}
}

// =============================================================================
// WAITING AND SCRIPTING
// =============================================================================

func wait() Handler {
	return &Func{
		Name:        types.ActionWait,
		Description: "Sleep, or poll until an element appears or disappears",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p, err := parseWaitParams(step)
			if err != nil {
				return invalid(hc, err)
			}
			switch {
			case p.UntilHidden != "":
				return live(hc, fmt.Sprintf("wait up to %s for %s to disappear", p.Duration, p.UntilHidden), func(page browser.LiveState) (string, error) {
					return pollUntil(ctx, p.Duration, page, p.UntilHidden, false)
				})
			case p.UntilVisible != "":
				return live(hc, fmt.Sprintf("wait up to %s for %s to appear", p.Duration, p.UntilVisible), func(page browser.LiveState) (string, error) {
					return pollUntil(ctx, p.Duration, page, p.UntilVisible, true)
				})
			}

			intent := "wait " + p.Duration.String()
			if hc.DryRun {
				return types.Skipped("dry run: would " + intent)
			}
			if err := sleep(ctx, p.Duration); err != nil {
				return types.Failed(fmt.Errorf("%s: %w", intent, err))
			}
			return types.Executed("waited " + p.Duration.String())
		},
	}
}

func pollUntil(ctx context.Context, limit time.Duration, page browser.LiveState, selector string, wantVisible bool) (string, error) {
	loc := types.Locator{Strategy: types.LocatorCSS, Value: selector}
	deadline := time.Now().Add(limit)
	for {
		n, err := page.VisibleCount(ctx, loc)
		if err != nil && !errors.Is(err, browser.ErrElementNotFound) {
			return "", err
		}
		if wantVisible && n > 0 {
			return selector + " is visible", nil
		}
		if !wantVisible && n == 0 {
			return selector + " is gone", nil
		}
		if time.Now().After(deadline) {
			if wantVisible {
				return "", fmt.Errorf("%w: %s after %s", browser.ErrElementNotFound, selector, limit)
			}
			return "", fmt.Errorf("%w: %s after %s", ErrStillVisible, selector, limit)
		}
		if err := sleep(ctx, min(pollEvery, time.Until(deadline)+time.Millisecond)); err != nil {
			return "", err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func executeScript() Handler {
	return &Func{
		Name:        types.ActionExecuteScript,
		Description: "Run a JavaScript function body in the page",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p, err := parseScriptParams(step)
			if err != nil {
				return invalid(hc, err)
			}
			return live(hc, "run script "+abbreviate(p.Script, 60), func(page browser.LiveState) (string, error) {
				res, err := page.ExecuteScript(ctx, p.Script)
				if err != nil {
					return "", err
				}
				return "script returned " + abbreviate(res, 200), nil
			})
		},
	}
}

func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// ELEMENTS AND FRAMES
// =============================================================================

func scrollIntoView() Handler {
	return &Func{
		Name:        types.ActionScrollIntoView,
		Description: "Scroll the target element into the viewport",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			loc, err := target(step, hc.Event)
			if err != nil {
				return invalid(hc, err)
			}
			return live(hc, "scroll "+loc.String()+" into view", func(page browser.LiveState) (string, error) {
				return "scrolled " + loc.String() + " into view", page.ScrollIntoView(ctx, loc)
			})
		},
	}
}

func click() Handler {
	return &Func{
		Name:        types.ActionClick,
		Description: "Click the target element",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			loc, err := target(step, hc.Event)
			if err != nil {
				return invalid(hc, err)
			}
			return live(hc, "click "+loc.String(), func(page browser.LiveState) (string, error) {
				return "clicked " + loc.String(), page.Click(ctx, loc)
			})
		},
	}
}

func switchToFrame() Handler {
	return &Func{
		Name:        types.ActionSwitchToFrame,
		Description: "Focus an iframe so later queries run inside it",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p, err := parseFrameParams(step)
			if err != nil {
				return invalid(hc, err)
			}
			return live(hc, "switch to frame "+p.Frame.String(), func(page browser.LiveState) (string, error) {
				return "switched to frame " + p.Frame.String(), page.SwitchToFrame(ctx, p.Frame)
			})
		},
	}
}

func switchToDefault() Handler {
	return &Func{
		Name:        types.ActionSwitchToDefault,
		Description: "Return focus to the top-level document",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			return live(hc, "switch to the top document", func(page browser.LiveState) (string, error) {
				return "switched to the top document", page.SwitchToDefault(ctx)
			})
		},
	}
}

// =============================================================================
// DECISIONS
// =============================================================================

func markOutcome() Handler {
	return &Func{
		Name:        types.ActionMarkOutcome,
		Description: "Override the suggested test outcome for this round",
		Fn: func(ctx context.Context, hc *HandlerContext, step types.Step) types.StepOutcome {
			p, err := parseMarkParams(step)
			if err != nil {
				return invalid(hc, err)
			}
			if hc.DryRun {
				return types.Skipped("dry run: would mark outcome " + string(p.Outcome))
			}
			msg := "outcome marked " + string(p.Outcome)
			if p.Reason != "" {
				msg += ": " + p.Reason
			}
			out := types.Executed(msg)
			o := p.Outcome
			out.OutcomeOverride = &o
			return out
		},
	}
}
