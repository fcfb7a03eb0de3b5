package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"testnerd/internal/knowledge"
)

var (
	unknownsStatus string
	unknownsLimit  int
)

// unknownsCmd reviews conditions recorded by offline runs
var unknownsCmd = &cobra.Command{
	Use:   "unknowns",
	Short: "Review unrecognized conditions recorded offline",
	RunE:  runUnknownsList,
}

var unknownsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded unknown conditions, most recent first",
	RunE:  runUnknownsList,
}

var unknownsMarkCmd = &cobra.Command{
	Use:   "mark <hash> <NEW|REVIEWED|PATTERN_CREATED|IGNORED>",
	Short: "Record a review decision",
	Args:  cobra.ExactArgs(2),
	RunE:  runUnknownsMark,
}

func init() {
	for _, c := range []*cobra.Command{unknownsCmd, unknownsListCmd} {
		c.Flags().StringVar(&unknownsStatus, "status", "", "Only this status")
		c.Flags().IntVar(&unknownsLimit, "limit", 50, "Maximum records (0 = all)")
	}
	unknownsCmd.AddCommand(unknownsListCmd)
	unknownsCmd.AddCommand(unknownsMarkCmd)
}

func runUnknownsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	var status knowledge.UnknownStatus
	if unknownsStatus != "" {
		st, err := knowledge.ParseUnknownStatus(unknownsStatus)
		if err != nil {
			return err
		}
		status = st
	}

	sink, err := knowledge.OpenUnknownSink(cfg.Unknowns.DatabasePath)
	if err != nil {
		return err
	}
	defer sink.Close()

	recs, err := sink.List(ctx, status, unknownsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No unknown conditions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tSTATUS\tHITS\tTYPE\tEXCEPTION\tLOCATOR\tPATH\tLAST SEEN")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Hash, r.Status, r.HitCount, r.ConditionType, orDash(r.ExceptionType),
			orDash(r.Locator), orDash(r.URLPath), r.LastSeen.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runUnknownsMark(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	status, err := knowledge.ParseUnknownStatus(args[1])
	if err != nil {
		return err
	}
	sink, err := knowledge.OpenUnknownSink(cfg.Unknowns.DatabasePath)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.SetStatus(ctx, args[0], status); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Marked %s %s\n", args[0], status)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
