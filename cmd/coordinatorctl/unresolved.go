package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksrustagi/coordinator/compensation"
	"github.com/aksrustagi/coordinator/id"
)

var (
	unresolvedRun string
	unresolvedAll bool
	resolveNote   string
)

var unresolvedCmd = &cobra.Command{
	Use:   "unresolved",
	Short: "Work the queue of compensations that gave up",
}

var unresolvedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved compensations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := compensation.ListOpts{IncludeResolved: unresolvedAll}
		if unresolvedRun != "" {
			runID, err := id.ParseRunID(unresolvedRun)
			if err != nil {
				return err
			}
			opts.RunID = runID
		}

		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		entries, err := sess.engine.Unresolved(cmd.Context(), opts)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tRUN\tWORKFLOW\tSTEP\tKIND\tFAILED\tRESOLVED\tERROR")
		for _, e := range entries {
			resolved := "-"
			if e.ResolvedAt != nil {
				resolved = e.ResolvedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.RunID, e.Workflow, e.Step, e.Kind,
				e.FailedAt.Format(time.RFC3339), resolved, e.Error)
		}
		return tw.Flush()
	},
}

var unresolvedResolveCmd = &cobra.Command{
	Use:   "resolve <entry-id>",
	Short: "Close an entry after manual follow-up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryID, err := id.ParseCompensationID(args[0])
		if err != nil {
			return err
		}
		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		if err := sess.engine.ResolveUnresolved(cmd.Context(), entryID, resolveNote); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", entryID)
		return nil
	},
}

func init() {
	unresolvedListCmd.Flags().StringVar(&unresolvedRun, "run", "", "only entries of this run")
	unresolvedListCmd.Flags().BoolVar(&unresolvedAll, "all", false, "include resolved entries")
	unresolvedResolveCmd.Flags().StringVar(&resolveNote, "note", "", "what was done by hand")
	_ = unresolvedResolveCmd.MarkFlagRequired("note")

	unresolvedCmd.AddCommand(unresolvedListCmd, unresolvedResolveCmd)
	rootCmd.AddCommand(unresolvedCmd)
}
