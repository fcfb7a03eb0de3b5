// Package diff summarizes how a page changed between two captures. DOM
// snapshots are split one tag per line and compared with the sergi/go-diff
// line mode.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"testnerd/internal/types"
)

// Stats describes the change between two captures of the same page.
type Stats struct {
	FromURL string
	ToURL   string
	Added   int // DOM lines
	Removed int
	// Samples holds up to MaxSamples changed lines, removals first.
	Samples []string
}

// MaxSamples bounds Stats.Samples.
const MaxSamples = 5

// URLChanged reports whether navigation happened.
func (s Stats) URLChanged() bool { return s.FromURL != s.ToURL }

// Changed reports whether anything moved.
func (s Stats) Changed() bool { return s.URLChanged() || s.Added > 0 || s.Removed > 0 }

// String renders "url A -> B, +n -m DOM lines", or "no change".
func (s Stats) String() string {
	if !s.Changed() {
		return "no change"
	}
	var parts []string
	if s.URLChanged() {
		parts = append(parts, fmt.Sprintf("url %s -> %s", s.FromURL, s.ToURL))
	}
	if s.Added > 0 || s.Removed > 0 {
		parts = append(parts, fmt.Sprintf("+%d -%d DOM lines", s.Added, s.Removed))
	}
	return strings.Join(parts, ", ")
}

// Engine computes line diffs.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewEngine creates a diff engine.
func NewEngine() *Engine {
	return &Engine{dmp: diffmatchpatch.New()}
}

var defaultEngine = NewEngine()

// Page compares two captures. Either may be nil.
func Page(before, after *types.ConditionEvent) Stats {
	return defaultEngine.Page(before, after)
}

// Page compares two captures. Either may be nil.
func (e *Engine) Page(before, after *types.ConditionEvent) Stats {
	var oldURL, newURL, oldDOM, newDOM string
	if before != nil {
		oldURL, oldDOM = before.CurrentURL, before.DOMSnapshot
	}
	if after != nil {
		newURL, newDOM = after.CurrentURL, after.DOMSnapshot
	}
	s := Stats{FromURL: oldURL, ToURL: newURL}
	if oldDOM == newDOM {
		return s
	}

	var removed, added []string
	for _, d := range e.lineDiffs(splitTags(oldDOM), splitTags(newDOM)) {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.Added += len(lines)
			added = append(added, lines...)
		case diffmatchpatch.DiffDelete:
			s.Removed += len(lines)
			removed = append(removed, lines...)
		}
	}
	for _, l := range append(prefixed("- ", removed), prefixed("+ ", added)...) {
		if len(s.Samples) == MaxSamples {
			break
		}
		s.Samples = append(s.Samples, l)
	}
	return s
}

func (e *Engine) lineDiffs(oldText, newText string) []diffmatchpatch.Diff {
	a, b, lineArray := e.dmp.DiffLinesToChars(oldText, newText)
	diffs := e.dmp.DiffMain(a, b, false)
	return e.dmp.DiffCharsToLines(diffs, lineArray)
}

// splitTags puts every tag on its own line so minified markup diffs by element.
func splitTags(html string) string {
	if html == "" {
		return ""
	}
	var sb strings.Builder
	for _, line := range strings.Split(strings.ReplaceAll(html, ">", ">\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func splitLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func prefixed(p string, lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = p + l
	}
	return out
}
