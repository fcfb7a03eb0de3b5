package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testnerd/internal/cascade"
	"testnerd/internal/regression"
	"testnerd/internal/types"
)

var regressFailFast bool

// regressCmd runs the diagnosis regression battery
var regressCmd = &cobra.Command{
	Use:   "regress [battery.yaml]",
	Short: "Check recorded failures still get their expected diagnosis",
	Long: `Runs a regression battery: each case replays a recorded event and
compares the final round with the expected source, category, outcome and
resolution. Use it before shipping knowledge-base or checker changes.

The default battery is regression/battery.yaml next to the knowledge base.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRegress,
}

func init() {
	regressCmd.Flags().BoolVar(&regressFailFast, "fail-fast", false, "Stop at the first failing case")
	rootCmd.AddCommand(regressCmd)
}

func runRegress(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	path := regression.DefaultBatteryPath(filepath.Dir(cfg.Knowledge.Path))
	if len(args) == 1 {
		path = args[0]
	}
	battery, err := regression.LoadBattery(path)
	if err != nil {
		return fmt.Errorf("failed to load battery: %w", err)
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

	run := func(ctx context.Context, ev *types.ConditionEvent) cascade.Result {
		return suite.NewExecution().Diagnose(ctx, nil, ev)
	}
	results, err := regression.RunBattery(ctx, battery, run, regressFailFast)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		status := "PASS"
		if !r.Success {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "%s  %-24s %5dms", status, r.CaseID, r.DurationMs)
		switch {
		case r.Error != "":
			fmt.Fprintf(out, "  %s", r.Error)
		case len(r.Mismatches) > 0:
			fmt.Fprintf(out, "  %s", strings.Join(r.Mismatches, "; "))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d/%d cases passed\n", len(results)-failed, len(results))
	if failed > 0 {
		return fmt.Errorf("%d regression cases failed", failed)
	}
	return nil
}
