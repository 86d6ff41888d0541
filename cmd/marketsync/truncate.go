package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quanteast/marketsync/internal/feed"
	"github.com/quanteast/marketsync/internal/ui"
)

var truncateYes bool

var truncateCmd = &cobra.Command{
	Use:   "truncate <feed>",
	Short: "Empty a feed's table of record",
	Long: `Delete every row from the feed's table of record, keeping the table and
its indexes in place. A missing table is not an error.

Destructive; asks for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		f, err := feed.Lookup(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if !truncateYes {
			fmt.Printf("%s Empty table %s? [y/N] ", ui.RenderWarn("!"), f.Table)
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return
			}
		}

		st := openStore(cfg)
		defer st.Close()

		if err := st.Truncate(context.Background(), f.Table); err != nil {
			fmt.Fprintf(os.Stderr, "%s Truncate failed: %v\n", ui.RenderErr("✗"), err)
			os.Exit(1)
		}
		fmt.Printf("%s %s emptied\n", ui.RenderPass("✓"), f.Table)
	},
}

func init() {
	truncateCmd.Flags().BoolVar(&truncateYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(truncateCmd)
}
