// Command marketsync syncs market data feeds from external providers into
// a relational database using a fetch-retry-ingest pipeline with blue/green
// table swaps.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quanteast/marketsync/internal/config"
	"github.com/quanteast/marketsync/internal/logging"
	"github.com/quanteast/marketsync/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "marketsync",
	Short: "Sync market data feeds into a relational database",
	Long: `marketsync pulls market data from external providers and lands it in a
relational database without downtime: each run populates a shadow table in
parallel, and a separate swap invocation promotes it to the table of record.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./marketsync.yaml)")
}

// loadConfig reads the runtime configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore connects to the configured store or exits. Failing to reach
// the store is an infrastructure error; nothing useful can happen without it.
func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Driver, cfg.DSN, logging.New("store", cfg.LogFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return st
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
