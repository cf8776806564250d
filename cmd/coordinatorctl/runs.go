package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aksrustagi/coordinator/id"
	"github.com/aksrustagi/coordinator/workflow"
)

var (
	listState    string
	listWorkflow string
	listLimit    int
	listOffset   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect workflow runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		runs, err := sess.engine.ListRuns(cmd.Context(), workflow.ListOpts{
			State:  workflow.RunState(listState),
			Name:   listWorkflow,
			Limit:  listLimit,
			Offset: listOffset,
		})
		if err != nil {
			return err
		}
		return printRuns(cmd.OutOrStdout(), runs)
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := id.ParseRunID(args[0])
		if err != nil {
			return err
		}
		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		run, err := sess.engine.GetRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), run)
	},
}

var runsTimelineCmd = &cobra.Command{
	Use:   "timeline <run-id>",
	Short: "List the recorded steps of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := id.ParseRunID(args[0])
		if err != nil {
			return err
		}
		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		entries, err := sess.engine.Timeline(cmd.Context(), runID)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RECORDED\tKIND\tSTEP\tBYTES")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.CreatedAt.Format(time.RFC3339Nano), e.Kind, e.StepName, len(e.Data))
		}
		return tw.Flush()
	},
}

var runsStepCmd = &cobra.Command{
	Use:   "step <run-id> <step-name>",
	Short: "Print the recorded result of one step",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := id.ParseRunID(args[0])
		if err != nil {
			return err
		}
		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		data, err := sess.engine.StepData(cmd.Context(), runID, args[1])
		if err != nil {
			return err
		}
		return printRaw(cmd.OutOrStdout(), data)
	},
}

func init() {
	runsListCmd.Flags().StringVar(&listState, "state", "", "filter by state")
	runsListCmd.Flags().StringVar(&listWorkflow, "workflow", "", "filter by workflow name")
	runsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum runs to list")
	runsListCmd.Flags().IntVar(&listOffset, "offset", 0, "runs to skip")

	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsTimelineCmd, runsStepCmd)
	rootCmd.AddCommand(runsCmd)
}
