// Package browser exposes the page under test to the diagnosis engine.
//
// LiveState is the narrow view checkers and action handlers use. RodState
// backs it with a real Chrome page driven by go-rod; SnapshotState answers the
// read-only half from a captured ConditionEvent so recorded failures can be
// replayed without a browser.
package browser

import (
	"context"
	"errors"

	"testnerd/internal/types"
)

var (
	// ErrReadOnly is returned by mutating calls on a snapshot.
	ErrReadOnly = errors.New("live state is read-only")

	// ErrNoAlert is returned when no JavaScript dialog is open.
	ErrNoAlert = errors.New("no alert is open")

	// ErrElementNotFound is returned when a locator matches nothing.
	ErrElementNotFound = errors.New("element not found")

	// ErrUnsupportedLocator is returned when an implementation cannot resolve a locator strategy.
	ErrUnsupportedLocator = errors.New("unsupported locator strategy")

	// ErrUnknownSession is returned for an unknown session id.
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotConnected is returned when the browser has not been started.
	ErrNotConnected = errors.New("browser not connected")
)

// Reader answers questions about the current page without changing it.
// CurrentURL, Title and HTML describe the top-level document; element
// queries run in the focused frame.
type Reader interface {
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	// Count returns how many elements match loc in the current context.
	Count(ctx context.Context, loc types.Locator) (int, error)
	// VisibleCount returns how many matching elements are rendered and visible.
	VisibleCount(ctx context.Context, loc types.Locator) (int, error)
	// HiddenReasons explains why the first element matching loc is not visible.
	HiddenReasons(ctx context.Context, loc types.Locator) ([]string, error)

	// AlertOpen reports whether a JavaScript dialog is showing, and its text.
	AlertOpen(ctx context.Context) (bool, string, error)
	// InFrame reports whether queries are scoped to a child frame.
	InFrame() bool
}

// Driver changes the current page.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Refresh(ctx context.Context) error
	ExecuteScript(ctx context.Context, script string) (string, error)

	AcceptAlert(ctx context.Context, promptText string) error
	DismissAlert(ctx context.Context) error

	SwitchToFrame(ctx context.Context, loc types.Locator) error
	SwitchToDefault(ctx context.Context) error

	Click(ctx context.Context, loc types.Locator) error
	ScrollIntoView(ctx context.Context, loc types.Locator) error
	Screenshot(ctx context.Context) ([]byte, error)
	ClearCookies(ctx context.Context) error
}

// LiveState is the full live-state surface.
type LiveState interface {
	Reader
	Driver
}

// ConsoleSource is implemented by live states that collect console output.
type ConsoleSource interface {
	ConsoleLogs() []string
}
