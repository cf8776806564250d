package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aksrustagi/coordinator/id"
)

var cancelReason string

var signalCmd = &cobra.Command{
	Use:   "signal <run-id> <type> [json-payload]",
	Short: "Deliver a signal to a run",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := id.ParseRunID(args[0])
		if err != nil {
			return err
		}
		var payload []byte
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			payload = []byte(args[2])
		}

		sess, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = sess.Stop(cmd.Context()) }()

		sig, err := sess.engine.Signal(cmd.Context(), runID, args[1], payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered %s (%s)\n", sig.ID, sig.Type)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <run-id> <query-type>",
	Short: "Print the latest snapshot a run published",
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

		data, err := sess.engine.Query(cmd.Context(), runID, args[1])
		if err != nil {
			return err
		}
		return printRaw(cmd.OutOrStdout(), data)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Ask a run to stop at its next cancellation point",
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

		if err := sess.engine.Cancel(cmd.Context(), runID, cancelReason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for %s\n", runID)
		return nil
	},
}

func init() {
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled by operator", "reason recorded on the run")
	rootCmd.AddCommand(signalCmd, queryCmd, cancelCmd)
}
