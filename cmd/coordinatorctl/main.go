// Command coordinatorctl operates a coordinator store: it migrates the
// schema, inspects and drives runs, works the unresolved-compensation
// queue, and serves scheduled batches with metrics.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	overrides  Config
	cfg        Config
)

var rootCmd = &cobra.Command{
	Use:           "coordinatorctl",
	Short:         "Operate durable workflow runs",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded.Merge(overrides)
		return cfg.Validate()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&overrides.Store, "store", "", "store backend: memory, postgres or redis")
	flags.StringVar(&overrides.Postgres.DSN, "postgres-dsn", "", "postgres connection string")
	flags.StringVar(&overrides.Redis.Addr, "redis-addr", "", "redis address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
