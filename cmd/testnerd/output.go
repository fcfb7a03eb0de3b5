package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"testnerd/internal/cascade"
)

// printResult writes a cascade result as indented JSON or as a readable
// round-by-round report.
func printResult(w io.Writer, name string, res cascade.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Name string `json:"name,omitempty"`
			cascade.Result
			Resolved bool `json:"resolved"`
		}{name, res, res.Resolved()})
	}

	final := res.Final()
	if name != "" {
		fmt.Fprintf(w, "%s\n", name)
	}
	fmt.Fprintf(w, "Run %s: %s (%s)\n", res.RunID, final.EffectiveOutcome(), final.Insight.Category)
	fmt.Fprintln(w, strings.Repeat("─", 60))
	for _, r := range res.Rounds {
		matcher := ""
		if r.Matcher != "" {
			matcher = " [" + r.Matcher + "]"
		}
		fmt.Fprintf(w, "Round %d  %s%s\n", r.Depth, r.Source, matcher)
		fmt.Fprintf(w, "  %s (%.2f): %s\n", r.Insight.Category, r.Insight.Confidence, r.Insight.RootCause)
		for _, o := range r.Outcomes {
			label := o.ActionType
			if o.StepID != "" {
				label = o.StepID + " " + label
			}
			fmt.Fprintf(w, "  %2d. %-28s %-9s %s\n", o.Index+1, label, o.Status, o.Message)
		}
		if r.LoopGuardTripped {
			fmt.Fprintln(w, "  loop guard tripped")
		}
		if r.GatewayLatency > 0 {
			fmt.Fprintf(w, "  analysis latency: %v\n", r.GatewayLatency)
		}
		if r.PageChange != "" {
			fmt.Fprintf(w, "  page change: %s\n", r.PageChange)
		}
		fmt.Fprintf(w, "  outcome=%s resolved=%v", r.EffectiveOutcome(), r.Resolved)
		if r.StopReason != "" {
			fmt.Fprintf(w, " stop=%q", r.StopReason)
		}
		fmt.Fprintln(w)
	}
	return nil
}
