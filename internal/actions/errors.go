package actions

import "errors"

// Handler registry errors.
var (
	// ErrHandlerNotFound is returned when no handler serves an action type.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrActionTypeEmpty is returned when a handler has no action type.
	ErrActionTypeEmpty = errors.New("action type cannot be empty")

	// ErrHandlerNil is returned when registering a nil handler.
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrHandlerAlreadyRegistered is returned when registering a duplicate.
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")
)

// Handler execution errors.
var (
	// ErrNoLiveState is returned when an action needs a browser and has none.
	ErrNoLiveState = errors.New("no live browser state")

	// ErrNothingToDismiss is returned when no close control was found.
	ErrNothingToDismiss = errors.New("no visible close control")

	// ErrNoTarget is returned when neither the step nor the event names an element.
	ErrNoTarget = errors.New("no target element")

	// ErrStillVisible is returned when a wait ends with the element still rendered.
	ErrStillVisible = errors.New("element still visible")

	// ErrInvalidOutcome is returned when MARK_OUTCOME names an unknown outcome.
	ErrInvalidOutcome = errors.New("invalid outcome")
)
