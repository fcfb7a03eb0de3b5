package checker

import "errors"

// ErrCheckerPanic wraps a recovered checker panic.
var ErrCheckerPanic = errors.New("checker panicked")
