package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quanteast/marketsync/internal/feed"
	"github.com/quanteast/marketsync/internal/store"
	"github.com/quanteast/marketsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <feed>",
	Short: "Show a feed's table of record and shadow table state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		f, err := feed.Lookup(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st := openStore(cfg)
		defer st.Close()

		ctx := context.Background()
		fmt.Printf("%s Feed %s\n", ui.RenderAccent("•"), f.Name)
		printTableStatus(ctx, st, f.Table)
		if f.Mode == feed.ModeReplace {
			printTableStatus(ctx, st, store.ShadowName(f.Table))
		}
	},
}

func printTableStatus(ctx context.Context, st *store.Store, table string) {
	exists, err := st.Cache().Exists(ctx, table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error checking %s: %v\n", table, err)
		os.Exit(1)
	}
	if !exists {
		fmt.Printf("   %s: %s\n", table, ui.RenderDim("absent"))
		return
	}
	count, err := st.RowCount(ctx, table)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", table, err)
		os.Exit(1)
	}
	fmt.Printf("   %s: %s (%d rows)\n", table, ui.RenderPass("exists"), count)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
