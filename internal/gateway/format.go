package gateway

import (
	"fmt"
	"sort"
	"strings"

	"testnerd/internal/types"
)

// FormatOptions bounds how much of a large event is sent.
type FormatOptions struct {
	MaxDOMChars        int
	MaxStackChars      int
	MaxConsoleLines    int
	MaxPriorSteps      int
	IncludeDOMSnapshot bool
}

// DefaultFormatOptions returns the limits used by the CLI.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{
		MaxDOMChars:        40000,
		MaxStackChars:      6000,
		MaxConsoleLines:    80,
		MaxPriorSteps:      20,
		IncludeDOMSnapshot: true,
	}
}

// FormatEvent renders ev as sectioned text for the analysis service.
// Sections always appear in the same order; empty ones say so explicitly so
// the service can tell "absent" from "not captured".
func FormatEvent(ev *types.ConditionEvent, opts FormatOptions) string {
	if ev == nil {
		return "## Condition Type\nUNKNOWN\n"
	}
	var sb strings.Builder

	section(&sb, "Condition Type", string(orUnknown(ev.Type)))
	if exc := ev.ResolvedExceptionType(); exc != "" {
		section(&sb, "Exception Type", exc)
	}
	section(&sb, "Message", orNone(ev.Message))

	urls := fmt.Sprintf("Current: %s\nExpected: %s", orNone(ev.CurrentURL), orNone(ev.ExpectedURL))
	section(&sb, "URLs", urls)

	loc := "(none)"
	if ev.Locator.Value != "" {
		strategy := ev.Locator.Strategy
		if strategy == "" {
			strategy = types.LocatorCSS
		}
		loc = fmt.Sprintf("Strategy: %s\nValue: %s", strategy, ev.Locator.Value)
	}
	section(&sb, "Locator", loc)

	section(&sb, "Prior Steps", numbered(tail(ev.PriorSteps, opts.MaxPriorSteps)))
	section(&sb, "Console Logs", lines(tail(ev.ConsoleLogs, opts.MaxConsoleLines)))
	section(&sb, "Stack Trace", orNone(truncate(ev.StackTrace, opts.MaxStackChars)))

	if len(ev.Metadata) > 0 {
		keys := make([]string, 0, len(ev.Metadata))
		for k := range ev.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var md []string
		for _, k := range keys {
			md = append(md, k+": "+ev.Metadata[k])
		}
		section(&sb, "Metadata", strings.Join(md, "\n"))
	}

	if opts.IncludeDOMSnapshot {
		section(&sb, "DOM Snapshot", orNone(truncate(ev.DOMSnapshot, opts.MaxDOMChars)))
	}

	shot := "[no screenshot]"
	if len(ev.Screenshot) > 0 {
		shot = fmt.Sprintf("[screenshot captured: %d bytes]", len(ev.Screenshot))
	}
	section(&sb, "Screenshot", shot)

	return sb.String()
}

func section(sb *strings.Builder, title, body string) {
	sb.WriteString("## ")
	sb.WriteString(title)
	sb.WriteByte('\n')
	sb.WriteString(body)
	sb.WriteString("\n\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func orUnknown(t types.ConditionType) types.ConditionType {
	if t == "" {
		return types.ConditionUnknown
	}
	return t
}

// tail keeps the last n entries; n <= 0 keeps everything.
func tail(items []string, n int) []string {
	if n > 0 && len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = fmt.Sprintf("%d. %s", i+1, s)
	}
	return strings.Join(out, "\n")
}

func lines(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, "\n")
}

// truncate keeps the first max bytes and notes how much was dropped.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... [truncated %d chars]", len(s)-max)
}
