package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"testnerd/internal/usage"
)

// usageCmd shows token usage of the analysis service
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show analysis service token usage",
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if cfg.Gateway.UsagePath == "" {
		fmt.Fprintln(out, "Usage tracking disabled (gateway.usage_path is empty).")
		return nil
	}
	renderUsage(out, usage.NewTracker(cfg.Gateway.UsagePath).Stats())
	return nil
}

func renderUsage(w io.Writer, stats usage.AggregatedStats) {
	total := stats.Total
	fmt.Fprintln(w, "Token Usage Statistics")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Calls:        %d (%d failed)\n", total.Calls, total.Failures)
	fmt.Fprintf(w, "Total Input:  %d\n", total.Input)
	fmt.Fprintf(w, "Total Output: %d\n", total.Output)
	fmt.Fprintf(w, "Grand Total:  %d\n", total.Total)
	fmt.Fprintln(w)

	renderTable := func(title string, data map[string]usage.TokenCounts) {
		if len(data) == 0 {
			return
		}
		fmt.Fprintln(w, title)

		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(w, "%-24s | %-6s | %-10s | %-10s | %-10s\n", "Name", "Calls", "Input", "Output", "Total")
		fmt.Fprintln(w, strings.Repeat("-", 72))
		for _, k := range keys {
			c := data[k]
			fmt.Fprintf(w, "%-24s | %-6d | %-10d | %-10d | %-10d\n", truncate(k, 24), c.Calls, c.Input, c.Output, c.Total)
		}
		fmt.Fprintln(w)
	}

	renderTable("By Provider", stats.ByProvider)
	renderTable("By Model", stats.ByModel)
	renderTable("By Category", stats.ByCategory)
}

func truncate(s string, l int) string {
	if len(s) > l {
		return s[:l-3] + "..."
	}
	return s
}
