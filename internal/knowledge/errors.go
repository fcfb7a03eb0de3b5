package knowledge

import "errors"

var (
	// ErrInvalidPattern is returned when a pattern violates a record invariant.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrPatternNotFound is returned when no record carries the requested ID.
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrPatternDisabled is returned when Add is given a disabled pattern.
	ErrPatternDisabled = errors.New("pattern is disabled")
	// ErrInvalidPolicy is returned for an unrecognized min-signal policy.
	ErrInvalidPolicy = errors.New("invalid min-signal policy")
	// ErrUnknownNotFound is returned when no unknown-condition record has the hash.
	ErrUnknownNotFound = errors.New("unknown condition not found")
	// ErrInvalidStatus is returned for an unrecognized review status.
	ErrInvalidStatus = errors.New("invalid unknown status")
	// ErrNoDatabasePath is returned when the unknown sink is opened without a path.
	ErrNoDatabasePath = errors.New("unknown sink database path required")
)
