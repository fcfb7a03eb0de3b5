package gateway

import "errors"

// Gateway errors. Every one of them ends the round with a terminal insight.
var (
	// ErrNoAPIKey is returned when a remote gateway is built without credentials.
	ErrNoAPIKey = errors.New("gateway API key is required")

	// ErrEmptyResponse is returned when the service answers with no text.
	ErrEmptyResponse = errors.New("empty analysis response")

	// ErrMalformedResponse is returned when the response is not a single JSON document
	// of the expected shape.
	ErrMalformedResponse = errors.New("malformed analysis response")

	// ErrSchemaViolation is returned when a well-formed response breaks a field rule
	// (unknown enum, out-of-range confidence, missing required field).
	ErrSchemaViolation = errors.New("analysis response violates schema")
)
