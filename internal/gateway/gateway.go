// Package gateway escalates conditions nobody recognized locally to a remote
// analysis service and turns its answer back into an Insight.
//
// The exchange is one synchronous call: FormatEvent renders the condition as
// sectioned text, Analyze sends it, ParseInsight validates the reply. Callers
// bound the call with a context deadline; the gateway never retries.
package gateway

import (
	"context"

	"testnerd/internal/types"
)

// Gateway is the remote analysis boundary.
type Gateway interface {
	// Analyze sends formatted condition content and returns the parsed insight.
	// Transport failures and malformed payloads are returned as errors.
	Analyze(ctx context.Context, content string) (*types.Insight, error)
}

// Func adapts a function to Gateway.
type Func func(ctx context.Context, content string) (*types.Insight, error)

// Analyze implements Gateway.
func (f Func) Analyze(ctx context.Context, content string) (*types.Insight, error) {
	return f(ctx, content)
}
