package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testnerd/internal/cascade"
	"testnerd/internal/config"
	"testnerd/internal/knowledge"
	"testnerd/internal/types"
	"testnerd/internal/usage"
)

// =============================================================================
// HELPERS
// =============================================================================

// setupWorkspace writes an offline config into a temp dir and returns its path.
func setupWorkspace(t *testing.T) (dir, cfgFile string) {
	t.Helper()
	dir = t.TempDir()
	c := config.DefaultConfig()
	c.Knowledge.Path = filepath.Join(dir, "patterns.json")
	c.Unknowns.DatabasePath = filepath.Join(dir, "unknowns.db")
	c.Logging.File = filepath.Join(dir, "testnerd.log")
	c.Gateway.UsagePath = filepath.Join(dir, "usage.json")
	c.Cascade.Offline = true
	cfgFile = filepath.Join(dir, "config.yaml")
	require.NoError(t, c.Save(cfgFile))
	return dir, cfgFile
}

// resetFlags restores every flag to its default so commands do not leak
// state into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func run(t *testing.T, cfgFile string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, path string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

var maintenanceEvent = &types.ConditionEvent{
	Type:        types.ConditionElementNotFound,
	Message:     "no such element: #pay",
	CurrentURL:  "https://shop.test/checkout?step=2",
	Locator:     types.Locator{Strategy: types.LocatorCSS, Value: "#pay"},
	DOMSnapshot: `<html><body><div class="maintenance">Back soon</div></body></html>`,
}

var totalsEvent = &types.ConditionEvent{
	Type:        types.ConditionAssertionFailed,
	Message:     "expected total 42.00, got 41.99",
	CurrentURL:  "https://shop.test/cart",
	DOMSnapshot: "<html><body><p id='total'>41.99</p></body></html>",
}

// =============================================================================
// EVENT FILES
// =============================================================================

func TestLoadEvents(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "b.json"), []*types.ConditionEvent{maintenanceEvent, totalsEvent})
	writeJSON(t, filepath.Join(dir, "a.json"), totalsEvent)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	events, err := loadEvents(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range events {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a", "b[0]", "b[1]"}, names)
	assert.Equal(t, "#pay", events[1].Event.Locator.Value)
}

func TestReadEventFile_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	for _, path := range []string{empty, bad, filepath.Join(dir, "missing.json")} {
		_, err := readEventFile(path)
		assert.Error(t, err, path)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestKBCommands(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)
	evFile := writeJSON(t, filepath.Join(dir, "ev.json"), maintenanceEvent)

	out, err := run(t, cfgFile, "kb", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No patterns found.")

	out, err = run(t, cfgFile, "kb", "add", "--from-event", evFile,
		"--category", "environment_issue", "--root-cause", "checkout is in maintenance", "--outcome", "skip")
	require.NoError(t, err)
	assert.Contains(t, out, "Added ")

	patterns := knowledge.NewStore(filepath.Join(dir, "patterns.json")).Patterns()
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, types.CategoryEnvironment, p.Insight.Category)
	assert.Equal(t, types.OutcomeSkip, p.Insight.Outcome)
	assert.Equal(t, 2, p.MinMatchSignals)

	out, err = run(t, cfgFile, "kb", "list")
	require.NoError(t, err)
	assert.Contains(t, out, p.ID)
	assert.Contains(t, out, "ENVIRONMENT_ISSUE")

	out, err = run(t, cfgFile, "kb", "disable", p.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Disabled "+p.ID)

	out, err = run(t, cfgFile, "kb", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No patterns found.")

	out, err = run(t, cfgFile, "kb", "list", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, p.ID)

	out, err = run(t, cfgFile, "kb", "reload")
	require.NoError(t, err)
	assert.Contains(t, out, "0 active of 1 patterns")

	_, err = run(t, cfgFile, "kb", "disable", "no-such-id")
	assert.ErrorIs(t, err, knowledge.ErrPatternNotFound)
}

func TestKBAdd_Rejects(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)
	evFile := writeJSON(t, filepath.Join(dir, "ev.json"), maintenanceEvent)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing", []string{"kb", "add"}, "nothing to add"},
		{"no root cause", []string{"kb", "add", "--from-event", evFile}, "--root-cause is required"},
		{"bad category", []string{"kb", "add", "--from-event", evFile, "--root-cause", "x", "--category", "cosmic"}, "unknown category"},
		{"bad outcome", []string{"kb", "add", "--from-event", evFile, "--root-cause", "x", "--outcome", "panic"}, "unknown outcome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, cfgFile, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplayOfflineThenReview(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)
	evDir := filepath.Join(dir, "events")
	require.NoError(t, os.MkdirAll(evDir, 0o755))
	writeJSON(t, filepath.Join(evDir, "cart.json"), []*types.ConditionEvent{totalsEvent, totalsEvent})

	out, err := run(t, cfgFile, "replay", evDir, "--parallel", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "cart[0]")
	assert.Contains(t, out, "cart[1]")
	assert.Contains(t, out, string(types.SourceUnknownRecorded))
	assert.Contains(t, out, "2 events: 2 INVESTIGATE")

	_, err = run(t, cfgFile, "replay", evDir, "--fail-on", "investigate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ended INVESTIGATE")

	out, err = run(t, cfgFile, "unknowns", "list")
	require.NoError(t, err)
	hash := knowledge.DedupHash(totalsEvent)
	assert.Contains(t, out, hash)
	assert.Contains(t, out, "/cart")

	// draft a pattern from the recorded condition; the record is marked
	_, err = run(t, cfgFile, "kb", "add", "--from-unknown", hash,
		"--category", "DATA_ISSUE", "--root-cause", "stale fixture", "--outcome", "FAIL_WITH_CONTEXT")
	require.NoError(t, err)

	out, err = run(t, cfgFile, "unknowns", "list", "--status", "PATTERN_CREATED")
	require.NoError(t, err)
	assert.Contains(t, out, hash)

	// the next replay is answered by the knowledge base
	out, err = run(t, cfgFile, "replay", evDir)
	require.NoError(t, err)
	assert.Contains(t, out, string(types.SourceKnowledgeBase))
	assert.Contains(t, out, "2 events: 2 FAIL_WITH_CONTEXT")

	out, err = run(t, cfgFile, "unknowns", "mark", hash, "ignored")
	require.NoError(t, err)
	assert.Contains(t, out, "IGNORED")
}

func TestDiagnoseJSON(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)
	evFile := writeJSON(t, filepath.Join(dir, "ev.json"), totalsEvent)

	out, err := run(t, cfgFile, "diagnose", evFile, "--json")
	require.NoError(t, err)

	var got struct {
		RunID    string               `json:"run_id"`
		Rounds   []types.CascadeRound `json:"rounds"`
		Resolved bool                 `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.NotEmpty(t, got.RunID)
	require.Len(t, got.Rounds, 1)
	assert.Equal(t, types.SourceUnknownRecorded, got.Rounds[0].Source)
	assert.False(t, got.Resolved)
}

func TestDiagnose_RejectsBatchFile(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)
	evFile := writeJSON(t, filepath.Join(dir, "ev.json"), []*types.ConditionEvent{totalsEvent, maintenanceEvent})

	_, err := run(t, cfgFile, "diagnose", evFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use replay")
}

func TestFlagOverrides(t *testing.T) {
	_, cfgFile := setupWorkspace(t)
	_, err := run(t, cfgFile, "--dry-run", "--risk-ceiling", "medium", "kb", "list")
	require.NoError(t, err)
	assert.True(t, cfg.Cascade.DryRun)
	assert.Equal(t, types.RiskMedium, cfg.GetRiskCeiling())
	assert.True(t, cfg.Cascade.Offline)
}

func TestPrintResultText(t *testing.T) {
	override := types.OutcomeSkip
	res := cascade.Result{
		RunID: "run-1",
		Rounds: []types.CascadeRound{{
			Depth:   1,
			Source:  types.SourceLocalChecker,
			Matcher: "Overlay",
			Insight: types.Insight{Category: types.CategoryOverlayBlocking, RootCause: "cookie banner", Confidence: 0.9, Outcome: types.OutcomeRetry},
			Outcomes: []types.StepOutcome{
				{Index: 0, StepID: "close", ActionType: "DISMISS_OVERLAY", Status: types.StepExecuted, Message: "removed 1"},
				{Index: 1, ActionType: "MARK_OUTCOME", Status: types.StepExecuted, OutcomeOverride: &override},
			},
			Resolved:   true,
			StopReason: cascade.StopResolved,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "checkout", res, false))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "checkout\nRun run-1: SKIP (OVERLAY_BLOCKING)"), out)
	assert.Contains(t, out, "Round 1  LOCAL_CHECKER [Overlay]")
	assert.Contains(t, out, "close DISMISS_OVERLAY")
	assert.Contains(t, out, `outcome=SKIP resolved=true stop="resolved"`)
}

func TestSummarize(t *testing.T) {
	round := func(o types.Outcome) cascade.Result {
		return cascade.Result{Rounds: []types.CascadeRound{{Insight: types.Insight{Outcome: o}}}}
	}
	counts := summarize([]cascade.Result{
		round(types.OutcomeRetry), round(types.OutcomeInvestigate), round(types.OutcomeRetry),
	})
	assert.Equal(t, map[string]int{"RETRY": 2, "INVESTIGATE": 1}, counts)
	assert.Equal(t, "2 RETRY, 1 INVESTIGATE", formatCounts(counts))
}

func TestUsageCommand(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)

	out, err := run(t, cfgFile, "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "Calls:        0 (0 failed)")

	tracker := usage.NewTracker(filepath.Join(dir, "usage.json"))
	tracker.Track(usage.Call{Model: "gemini-2.5-flash", Provider: "gemini", InputTokens: 100, OutputTokens: 20, Category: "OVERLAY_BLOCKING"})
	require.NoError(t, tracker.Save())

	out, err = run(t, cfgFile, "usage")
	require.NoError(t, err)
	assert.Contains(t, out, "Grand Total:  120")
	assert.Contains(t, out, "By Category")
	assert.Contains(t, out, "OVERLAY_BLOCKING")
}

func TestRegressCommand(t *testing.T) {
	dir, cfgFile := setupWorkspace(t)
	regDir := filepath.Join(dir, "regression")
	require.NoError(t, os.MkdirAll(regDir, 0o755))
	writeJSON(t, filepath.Join(regDir, "totals.json"), totalsEvent)
	battery := `version: 1
cases:
  - id: totals-recorded
    event: totals.json
    expect:
      source: UNKNOWN_RECORDED
      outcome: INVESTIGATE
      resolved: false
  - id: totals-known
    event: totals.json
    expect:
      source: KNOWLEDGE_BASE
`
	require.NoError(t, os.WriteFile(filepath.Join(regDir, "battery.yaml"), []byte(battery), 0o644))

	// default path sits next to the knowledge base
	out, err := run(t, cfgFile, "regress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 regression cases failed")
	assert.Contains(t, out, "PASS  totals-recorded")
	assert.Contains(t, out, "FAIL  totals-known")
	assert.Contains(t, out, "source UNKNOWN_RECORDED, want KNOWLEDGE_BASE")
	assert.Contains(t, out, "1/2 cases passed")
}
