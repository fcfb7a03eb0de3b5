package types

import "errors"

// Model validation errors.
var (
	// ErrInvalidRiskTier is returned when a risk tier name is not LOW, MEDIUM or HIGH.
	ErrInvalidRiskTier = errors.New("invalid risk tier")

	// ErrMissingParam is returned when a required action parameter is absent.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrInvalidParamType is returned when an action parameter has the wrong type.
	ErrInvalidParamType = errors.New("invalid parameter type")
)
