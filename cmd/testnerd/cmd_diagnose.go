package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testnerd/internal/browser"
	"testnerd/internal/types"
)

var (
	diagnoseLive       bool
	diagnoseURL        string
	diagnoseScreenshot bool
	diagnoseJSON       bool
)

// diagnoseCmd runs one cascade for a captured failure.
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <event.json>",
	Short: "Diagnose one test failure and remediate it",
	Long: `Runs the diagnosis cascade for the failure described in event.json.

Without --live the event is replayed against its own DOM snapshot: checkers
and the knowledge base still classify it, but remediation steps that touch
the page are refused. With --live the page is read from Chrome (attached via
browser.debugger_url or launched) and the live fields of the event are
captured fresh before the first round.

Example:
  testnerd diagnose failure.json
  testnerd diagnose failure.json --live --url https://shop.test/checkout`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagnoseLive, "live", false, "Diagnose against a live browser page")
	diagnoseCmd.Flags().StringVar(&diagnoseURL, "url", "", "Open this URL instead of attaching to the first page (with --live)")
	diagnoseCmd.Flags().BoolVar(&diagnoseScreenshot, "screenshot", false, "Capture a screenshot (with --live)")
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "Print the result as JSON")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	events, err := readEventFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}
	if len(events) != 1 {
		return fmt.Errorf("%s holds %d events; use replay for batches", args[0], len(events))
	}
	ev := events[0].Event

	suite, err := bootSuite(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := suite.Close(); err != nil {
			logger.Warn("suite close failed", zap.Error(err))
		}
	}()

	var live browser.LiveState
	if diagnoseLive {
		state, err := suite.LiveState(ctx, diagnoseURL)
		if err != nil {
			return fmt.Errorf("failed to open live page: %w", err)
		}
		live = state
		ev = browser.Capture(ctx, state, failureOf(ev), browser.CaptureOptions{Screenshot: diagnoseScreenshot})
	}

	exec := suite.NewExecution()
	logger.Info("Diagnosing",
		zap.String("execution", exec.ID),
		zap.String("type", string(ev.Type)),
		zap.Bool("live", diagnoseLive))

	res := exec.Diagnose(ctx, live, ev)
	return printResult(cmd.OutOrStdout(), "", res, diagnoseJSON)
}

// failureOf keeps what the test runner knew; Capture re-reads the rest.
func failureOf(ev *types.ConditionEvent) browser.Failure {
	return browser.Failure{
		Type:          ev.Type,
		Message:       ev.Message,
		ExpectedURL:   ev.ExpectedURL,
		Locator:       ev.Locator,
		PriorSteps:    ev.PriorSteps,
		StackTrace:    ev.StackTrace,
		ExceptionType: ev.ExceptionType,
		Metadata:      ev.Metadata,
	}
}
