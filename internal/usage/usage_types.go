package usage

import "time"

// UsageData represents the root structure stored in persistence.
type UsageData struct {
	Version   string          `json:"version"`
	Updated   time.Time       `json:"updated"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// Call is one analysis request sent to a model.
type Call struct {
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	// Category is the diagnosed category, empty when the call failed.
	Category string
	Failed   bool
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	Total      TokenCounts            `json:"total"`
	ByProvider map[string]TokenCounts `json:"by_provider"`
	ByModel    map[string]TokenCounts `json:"by_model"`
	ByCategory map[string]TokenCounts `json:"by_category"`
}

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures,omitempty"`
	Input    int64 `json:"input"`
	Output   int64 `json:"output"`
	Total    int64 `json:"total"`
}

func (tc *TokenCounts) Add(c Call) {
	tc.Calls++
	if c.Failed {
		tc.Failures++
	}
	tc.Input += int64(c.InputTokens)
	tc.Output += int64(c.OutputTokens)
	tc.Total += int64(c.InputTokens + c.OutputTokens)
}
