package browser

import (
	"context"
	"time"

	"testnerd/internal/logging"
	"testnerd/internal/types"
)

// Failure is what the test runner knows when a step fails. Capture adds
// everything that can be read from the live page.
type Failure struct {
	Type          types.ConditionType
	Message       string
	ExpectedURL   string
	Locator       types.Locator
	PriorSteps    []string
	StackTrace    string
	ExceptionType string
	Metadata      map[string]string
}

// CaptureOptions controls the expensive parts of a capture.
type CaptureOptions struct {
	Screenshot bool
}

// Capture builds a ConditionEvent from a failure and the live page. Read
// errors are logged and leave the corresponding field empty; a capture never
// fails outright.
func Capture(ctx context.Context, live Reader, f Failure, opts CaptureOptions) *types.ConditionEvent {
	timer := logging.StartTimer(logging.CategoryBrowser, "Capture")
	defer timer.Stop()

	ev := &types.ConditionEvent{
		Type:          f.Type,
		Message:       f.Message,
		ExpectedURL:   f.ExpectedURL,
		Locator:       f.Locator,
		PriorSteps:    append([]string(nil), f.PriorSteps...),
		StackTrace:    f.StackTrace,
		ExceptionType: f.ExceptionType,
		CapturedAt:    time.Now(),
	}
	if ev.Type == "" {
		ev.Type = types.ConditionUnknown
	}
	if len(f.Metadata) > 0 {
		ev.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			ev.Metadata[k] = v
		}
	}

	if url, err := live.CurrentURL(ctx); err != nil {
		logging.BrowserWarn("capture: current url: %v", err)
	} else {
		ev.CurrentURL = url
	}

	if dom, err := live.HTML(ctx); err != nil {
		logging.BrowserWarn("capture: html: %v", err)
	} else {
		ev.DOMSnapshot = dom
	}

	if open, text, err := live.AlertOpen(ctx); err == nil && open {
		if ev.Metadata == nil {
			ev.Metadata = make(map[string]string)
		}
		ev.Metadata["alert_text"] = text
	}

	if src, ok := live.(ConsoleSource); ok {
		ev.ConsoleLogs = src.ConsoleLogs()
	}

	if opts.Screenshot {
		if shooter, ok := live.(interface {
			Screenshot(context.Context) ([]byte, error)
		}); ok {
			if png, err := shooter.Screenshot(ctx); err != nil {
				logging.BrowserDebug("capture: screenshot: %v", err)
			} else {
				ev.Screenshot = png
			}
		}
	}

	logging.BrowserDebug("captured %s at %s (dom=%d bytes, console=%d lines)",
		ev.Type, ev.CurrentURL, len(ev.DOMSnapshot), len(ev.ConsoleLogs))
	return ev
}

// Refresh re-reads the live fields of ev. The receiver is returned unchanged
// when neither the URL nor the DOM moved.
func Refresh(ctx context.Context, live Reader, ev *types.ConditionEvent) *types.ConditionEvent {
	url, err := live.CurrentURL(ctx)
	if err != nil {
		logging.BrowserDebug("refresh: current url: %v", err)
		url = ""
	}
	dom, err := live.HTML(ctx)
	if err != nil {
		logging.BrowserDebug("refresh: html: %v", err)
		dom = ""
	}
	return ev.WithLiveState(url, dom)
}
