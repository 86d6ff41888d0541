package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quanteast/marketsync/internal/feed"
	"github.com/quanteast/marketsync/internal/logging"
	"github.com/quanteast/marketsync/internal/store"
	"github.com/quanteast/marketsync/internal/ui"
)

var swapCmd = &cobra.Command{
	Use:   "swap <feed>",
	Short: "Promote a feed's shadow table to be the table of record",
	Long: `Drop the feed's table of record and rename its fully populated shadow
table into its place.

The drop and the rename are separate commit boundaries: if the process dies
in between, the shadow table is still live and re-running the swap resumes
cleanly. A missing shadow table is a reported failure that leaves the table
of record untouched.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		f, err := feed.Lookup(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if f.Mode != feed.ModeReplace {
			fmt.Fprintf(os.Stderr, "Error: feed %s writes in place and has no shadow table\n", f.Name)
			os.Exit(1)
		}

		st := openStore(cfg)
		defer st.Close()

		swapper := store.NewSwapCoordinator(st, logging.New("swap", cfg.LogFile))
		shadow := store.ShadowName(f.Table)

		if err := swapper.Swap(context.Background(), shadow, f.Table); err != nil {
			fmt.Fprintf(os.Stderr, "%s Swap failed: %v\n", ui.RenderErr("✗"), err)
			os.Exit(1)
		}

		fmt.Printf("%s %s promoted to %s\n", ui.RenderPass("✓"), shadow, f.Table)
	},
}

func init() {
	rootCmd.AddCommand(swapCmd)
}
