package main

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"testnerd/internal/cascade"
	"testnerd/internal/types"
)

var (
	replayParallel int
	replayJSON     bool
	replayFailOn   []string
)

// replayCmd diagnoses a batch of recorded failures.
var replayCmd = &cobra.Command{
	Use:   "replay <events.json|dir>",
	Short: "Diagnose recorded failures against their snapshots",
	Long: `Replays recorded condition events without a browser. Each event gets
its own execution context; executions share the suite's knowledge base,
unknown-condition sink and analysis gateway, and run in parallel.

Example:
  testnerd replay ./failures --parallel 8 --offline`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVarP(&replayParallel, "parallel", "p", runtime.NumCPU(), "Concurrent executions")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print results as JSON")
	replayCmd.Flags().StringSliceVar(&replayFailOn, "fail-on", nil, "Exit non-zero when any final outcome is one of these (e.g. FAIL_WITH_CONTEXT,INVESTIGATE)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	events, err := loadEvents(args[0])
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
		return nil
	}

	suite, err := bootSuite(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := suite.Close(); err != nil {
			logger.Warn("suite close failed", zap.Error(err))
		}
	}()

	results := make([]cascade.Result, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, replayParallel))
	for i, ne := range events {
		g.Go(func() error {
			exec := suite.NewExecution()
			logger.Debug("Replaying", zap.String("event", ne.Name), zap.String("execution", exec.ID))
			results[i] = exec.Diagnose(gctx, nil, ne.Event)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, res := range results {
		var buf bytes.Buffer
		if err := printResult(&buf, events[i].Name, res, replayJSON); err != nil {
			return err
		}
		if _, err := out.Write(buf.Bytes()); err != nil {
			return err
		}
		if !replayJSON {
			fmt.Fprintln(out)
		}
	}

	counts := summarize(results)
	if !replayJSON {
		fmt.Fprintf(out, "%d events: %s\n", len(results), formatCounts(counts))
	}
	for _, o := range replayFailOn {
		if n := counts[strings.ToUpper(strings.TrimSpace(o))]; n > 0 {
			return fmt.Errorf("%d events ended %s", n, strings.ToUpper(o))
		}
	}
	return nil
}

// summarize counts final effective outcomes.
func summarize(results []cascade.Result) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[string(r.Final().EffectiveOutcome())]++
	}
	return counts
}

func formatCounts(counts map[string]int) string {
	var parts []string
	for _, o := range types.Outcomes {
		if n := counts[string(o)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, o))
		}
	}
	return strings.Join(parts, ", ")
}
