package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := cfg.Logger()
		s, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s store migrated\n", cfg.Store)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
