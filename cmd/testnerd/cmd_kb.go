// Knowledge base and unknown-condition review commands.
package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testnerd/internal/knowledge"
	"testnerd/internal/types"
)

// =============================================================================
// KNOWLEDGE BASE COMMANDS
// =============================================================================

var (
	kbListAll bool

	kbFromEvent   string
	kbFromUnknown string
	kbName        string
	kbCategory    string
	kbRootCause   string
	kbOutcome     string
	kbConfidence  float64
	kbTransient   bool
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the known-pattern knowledge base",
	Long: `Manage the curated knowledge base of known failure patterns.

Subcommands:
  list     - List patterns
  add      - Import patterns from a file, or draft one from an event
  disable  - Stop a pattern from matching
  reload   - Re-read the knowledge base file and report the active set`,
	RunE: runKBList,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patterns",
	RunE:  runKBList,
}

var kbAddCmd = &cobra.Command{
	Use:   "add [patterns.yaml|patterns.json]",
	Short: "Import patterns, or draft one from an event",
	Long: `Imports every pattern in a YAML or JSON file, or drafts a single
pattern from a recorded condition.

Examples:
  testnerd kb add patterns.yaml
  testnerd kb add --from-event failure.json --category ENVIRONMENT_ISSUE \
      --root-cause "checkout is in maintenance" --outcome SKIP
  testnerd kb add --from-unknown 3f9a1c... --category DATA_ISSUE \
      --root-cause "stale fixture" --outcome FAIL_WITH_CONTEXT`,
	Args: cobra.MaximumNArgs(1),
	RunE: runKBAdd,
}

var kbDisableCmd = &cobra.Command{
	Use:   "disable <pattern-id>",
	Short: "Stop a pattern from matching",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBDisable,
}

var kbReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the knowledge base file",
	RunE:  runKBReload,
}

func init() {
	kbListCmd.Flags().BoolVar(&kbListAll, "all", false, "Include disabled patterns")
	kbCmd.Flags().BoolVar(&kbListAll, "all", false, "Include disabled patterns")

	f := kbAddCmd.Flags()
	f.StringVar(&kbFromEvent, "from-event", "", "Draft the pattern from this event file")
	f.StringVar(&kbFromUnknown, "from-unknown", "", "Draft the pattern from this unknown-condition hash")
	f.StringVar(&kbName, "name", "", "Pattern name (default derived from the event)")
	f.StringVar(&kbCategory, "category", string(types.CategoryUnknown), "Insight category")
	f.StringVar(&kbRootCause, "root-cause", "", "Insight root cause")
	f.StringVar(&kbOutcome, "outcome", string(types.OutcomeInvestigate), "Suggested test outcome")
	f.Float64Var(&kbConfidence, "confidence", 0.8, "Insight confidence")
	f.BoolVar(&kbTransient, "transient", false, "Mark the condition transient")
	kbAddCmd.MarkFlagsMutuallyExclusive("from-event", "from-unknown")

	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbAddCmd)
	kbCmd.AddCommand(kbDisableCmd)
	kbCmd.AddCommand(kbReloadCmd)
}

func openStore() *knowledge.Store {
	return knowledge.NewStore(cfg.Knowledge.Path)
}

func runKBList(cmd *cobra.Command, args []string) error {
	store := openStore()
	patterns := store.Patterns()
	if kbListAll {
		all, err := store.All()
		if err != nil {
			return fmt.Errorf("failed to read knowledge base: %w", err)
		}
		patterns = all
	}

	out := cmd.OutOrStdout()
	if len(patterns) == 0 {
		fmt.Fprintln(out, "No patterns found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tOUTCOME\tSIGNALS\tHITS\tENABLED")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%v\n",
			p.ID, p.Label(), p.Insight.Category, p.Insight.Outcome,
			p.MinMatchSignals, p.Signals.Defined(), p.HitCount, p.Enabled)
	}
	return tw.Flush()
}

func runKBAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	var (
		patterns []knowledge.KnownPattern
		err      error
	)
	switch {
	case len(args) == 1:
		if kbFromEvent != "" || kbFromUnknown != "" {
			return fmt.Errorf("give either a pattern file or --from-event/--from-unknown, not both")
		}
		patterns, err = knowledge.LoadPatternFile(args[0])
	case kbFromEvent != "":
		patterns, err = draftFromEventFile(kbFromEvent)
	case kbFromUnknown != "":
		patterns, err = draftFromUnknown(ctx, kbFromUnknown)
	default:
		return fmt.Errorf("nothing to add: give a pattern file, --from-event or --from-unknown")
	}
	if err != nil {
		return err
	}

	store := openStore()
	out := cmd.OutOrStdout()
	for _, p := range patterns {
		if !p.Enabled {
			fmt.Fprintf(out, "Skipped %s (disabled in file)\n", p.Label())
			continue
		}
		added, err := store.Add(p)
		if err != nil {
			return fmt.Errorf("failed to add pattern: %w", err)
		}
		fmt.Fprintf(out, "Added %s (%s)\n", added.ID, added.Label())
	}
	return nil
}

func authoredInsight() (types.Insight, error) {
	if strings.TrimSpace(kbRootCause) == "" {
		return types.Insight{}, fmt.Errorf("--root-cause is required when drafting a pattern")
	}
	in := types.Insight{
		Category:   types.Category(strings.ToUpper(kbCategory)),
		RootCause:  kbRootCause,
		Confidence: kbConfidence,
		Transient:  kbTransient,
		Outcome:    types.Outcome(strings.ToUpper(kbOutcome)),
	}
	if !in.Category.Valid() {
		return types.Insight{}, fmt.Errorf("unknown category %q", kbCategory)
	}
	if !in.Outcome.Valid() {
		return types.Insight{}, fmt.Errorf("unknown outcome %q", kbOutcome)
	}
	return in, nil
}

func draftPattern(ev *types.ConditionEvent) (knowledge.KnownPattern, error) {
	in, err := authoredInsight()
	if err != nil {
		return knowledge.KnownPattern{}, err
	}
	policy, err := knowledge.ParseMinSignalPolicy(cfg.Knowledge.MinSignalPolicy)
	if err != nil {
		return knowledge.KnownPattern{}, err
	}
	p := knowledge.PatternFromEvent(ev, in, policy)
	if kbName != "" {
		p.Name = kbName
	}
	return p, nil
}

func draftFromEventFile(path string) ([]knowledge.KnownPattern, error) {
	events, err := readEventFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	var out []knowledge.KnownPattern
	for _, ne := range events {
		p, err := draftPattern(ne.Event)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// draftFromUnknown drafts a pattern from a recorded unknown condition and
// marks the record PATTERN_CREATED.
func draftFromUnknown(ctx context.Context, hash string) ([]knowledge.KnownPattern, error) {
	sink, err := knowledge.OpenUnknownSink(cfg.Unknowns.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	rec, err := sink.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec.Event == nil {
		return nil, fmt.Errorf("unknown condition %s has no stored event", hash)
	}
	p, err := draftPattern(rec.Event)
	if err != nil {
		return nil, err
	}
	if err := sink.SetStatus(ctx, hash, knowledge.UnknownPatternCreated); err != nil {
		logger.Warn("failed to mark unknown condition", zap.String("hash", hash), zap.Error(err))
	}
	return []knowledge.KnownPattern{p}, nil
}

func runKBDisable(cmd *cobra.Command, args []string) error {
	if err := openStore().Disable(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disabled %s\n", args[0])
	return nil
}

func runKBReload(cmd *cobra.Command, args []string) error {
	store := openStore()
	store.Reload()
	all, err := store.All()
	if err != nil {
		return fmt.Errorf("failed to read knowledge base: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d active of %d patterns\n", store.Path(), store.Len(), len(all))
	return nil
}
