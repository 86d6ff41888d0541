package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quanteast/marketsync/internal/config"
	"github.com/quanteast/marketsync/internal/feed"
	"github.com/quanteast/marketsync/internal/logging"
	"github.com/quanteast/marketsync/internal/pipeline"
	"github.com/quanteast/marketsync/internal/progress"
	"github.com/quanteast/marketsync/internal/schema"
	"github.com/quanteast/marketsync/internal/source"
	"github.com/quanteast/marketsync/internal/store"
	"github.com/quanteast/marketsync/internal/ui"
)

var (
	syncWorkers  int
	syncUnit     string
	syncSince    string
	syncResume   bool
	syncManifest string
	syncSource   string
)

var syncCmd = &cobra.Command{
	Use:   "sync <feed>",
	Short: "Run one sync for a feed",
	Long: `Fetch every work unit of a feed in parallel and land the batches in the
feed's target table.

Replace-mode feeds write into the <table>_new shadow table; promote it
afterwards with 'marketsync swap'. Dedup-mode feeds upsert straight into
the table of record.

Failed units are written to a failure manifest (unit_id<TAB>reason per
line); pass it back via --manifest to retry exactly those units.

Exits 0 when records were written, 1 on a fatal error or when nothing was
written.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		f, err := feed.Lookup(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st := openStore(cfg)
		defer st.Close()

		// An interrupt stops submitting units; in-flight fetches drain
		// and a partial summary is still produced.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		units, err := enumerateUnits(ctx, st, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error enumerating work units: %v\n", err)
			os.Exit(1)
		}
		if len(units) == 0 {
			fmt.Fprintf(os.Stderr, "%s No work units for feed %s (is %s populated?)\n",
				ui.RenderWarn("!"), f.Name, f.UnitsTable)
			os.Exit(1)
		}

		src, err := buildSource(cfg, st, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		spec, err := loadIndexSpec(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		workers := cfg.Workers
		if cmd.Flags().Changed("workers") {
			workers = syncWorkers
		}

		fetcher := pipeline.NewRetryingFetcher(src, cfg.MaxRetries, cfg.RetryBackoff, logging.New("fetch", cfg.LogFile))
		provisioner := store.NewProvisioner(st, spec, logging.New("index", cfg.LogFile))
		writer := store.NewShadowTableWriter(st, provisioner, logging.New("writer", cfg.LogFile))
		orch := pipeline.NewSyncOrchestrator(fetcher, writer, st,
			progress.New(os.Stdout), logging.New("sync", cfg.LogFile))

		fmt.Printf("%s Syncing %s: %d units, %d workers → %s\n",
			ui.RenderAccent("→"), f.Name, len(units), workers, f.TargetTable())
		start := time.Now()

		summary, err := orch.Run(ctx, units, pipeline.RunConfig{
			Table:     f.TargetTable(),
			Workers:   workers,
			Dedup:     f.Mode == feed.ModeDedup,
			DedupKeys: f.Keys,
			Resume:    syncResume,
			Transform: f.MapBatch,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Run aborted: %v\n", ui.RenderErr("✗"), err)
			os.Exit(1)
		}

		printSummary(f, summary, cfg, time.Since(start))

		manifestPath := filepath.Join(cfg.ManifestDir, "failed-"+f.Name+".txt")
		if err := pipeline.WriteManifest(manifestPath, summary); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("!"), err)
		} else if !summary.Clean() {
			fmt.Printf("   Failure manifest: %s\n", manifestPath)
		}

		if summary.RecordsWritten == 0 {
			os.Exit(1)
		}
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 8, "fetch pool size (1-16)")
	syncCmd.Flags().StringVar(&syncUnit, "unit", "", "sync a single unit (e.g. one security code)")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "start date YYYYMMDD, or 'auto' to resume from MAX(date) in the table of record")
	syncCmd.Flags().BoolVar(&syncResume, "resume", false, "append to an existing shadow table instead of replacing it")
	syncCmd.Flags().StringVar(&syncManifest, "manifest", "", "retry the units listed in a failure manifest")
	syncCmd.Flags().StringVar(&syncSource, "source", "csv", "data source: csv, flatfile, or polygon")
	rootCmd.AddCommand(syncCmd)
}

// enumerateUnits builds the run's unit list: from a retry manifest, from
// the --unit filter, or from the feed's units table.
func enumerateUnits(ctx context.Context, st *store.Store, f *feed.Feed) ([]schema.WorkUnit, error) {
	params, err := unitParams(ctx, st, f)
	if err != nil {
		return nil, err
	}

	if syncManifest != "" {
		units, err := pipeline.ReadManifest(syncManifest)
		if err != nil {
			return nil, err
		}
		for i := range units {
			units[i].Params = params
		}
		return units, nil
	}

	if syncUnit != "" {
		return []schema.WorkUnit{{ID: syncUnit, Params: params}}, nil
	}

	ids, err := st.ColumnValues(ctx, f.UnitsTable, f.UnitsColumn)
	if err != nil {
		return nil, err
	}
	units := make([]schema.WorkUnit, len(ids))
	for i, id := range ids {
		units[i] = schema.WorkUnit{ID: id, Params: params}
	}
	return units, nil
}

// unitParams resolves the shared fetch parameters, i.e. the start date.
func unitParams(ctx context.Context, st *store.Store, f *feed.Feed) (map[string]string, error) {
	switch syncSince {
	case "":
		return nil, nil
	case "auto":
		max, ok, err := st.MaxValue(ctx, f.Table, f.DateColumn)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return map[string]string{"start": max}, nil
	default:
		norm, err := feed.NormalizeYMD(syncSince)
		if err != nil {
			return nil, fmt.Errorf("--since: %w", err)
		}
		return map[string]string{"start": norm}, nil
	}
}

// buildSource constructs the configured data source.
func buildSource(cfg *config.Config, st *store.Store, f *feed.Feed) (source.DataSource, error) {
	switch syncSource {
	case "csv":
		dir := cfg.CSVDir
		if dir == "" {
			dir = "."
		}
		return source.NewCSVDir(filepath.Join(dir, f.Name)), nil
	case "flatfile":
		return source.NewFlatFiles(source.FlatFileConfig{
			Endpoint:  cfg.FlatFileEndpoint,
			AccessKey: cfg.FlatFileAccessKey,
			SecretKey: cfg.FlatFileSecretKey,
			Bucket:    cfg.FlatFileBucket,
			Prefix:    cfg.FlatFilePrefix,
		})
	case "polygon":
		if cfg.PolygonAPIKey == "" {
			return nil, fmt.Errorf("polygon source requires MARKETSYNC_POLYGON_API_KEY")
		}
		end := time.Now()
		return source.NewPolygon(cfg.PolygonAPIKey, end.AddDate(-3, 0, 0), end), nil
	default:
		return nil, fmt.Errorf("unknown source %q (have: csv, flatfile, polygon)", syncSource)
	}
}

// loadIndexSpec returns the built-in feed index specs, overlaid with the
// configured spec file when one is set.
func loadIndexSpec(cfg *config.Config) (store.IndexSpec, error) {
	spec := feed.IndexSpec()
	if cfg.IndexSpecFile == "" {
		return spec, nil
	}
	data, err := os.ReadFile(cfg.IndexSpecFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read index spec file: %w", err)
	}
	override, err := store.LoadIndexSpec(data)
	if err != nil {
		return nil, err
	}
	spec.Merge(override)
	return spec, nil
}

// printSummary echoes the run accounting and a bounded failure preview.
func printSummary(f *feed.Feed, summary *pipeline.Summary, cfg *config.Config, elapsed time.Duration) {
	marker := ui.RenderPass("✓")
	if !summary.Clean() {
		marker = ui.RenderWarn("!")
	}
	fmt.Printf("%s Sync of %s complete in %v\n", marker, f.Name, elapsed.Round(time.Millisecond))
	fmt.Printf("   Submitted: %d\n", summary.Submitted)
	fmt.Printf("   Succeeded: %d\n", summary.Succeeded)
	fmt.Printf("   Empty:     %d\n", summary.FailedEmpty)
	fmt.Printf("   Failed:    %d\n", summary.FailedError)
	fmt.Printf("   Records:   %d\n", summary.RecordsWritten)

	preview := summary.Preview(cfg.FailurePreview)
	for _, fail := range preview {
		fmt.Printf("   %s %s: %s\n", ui.RenderErr("✗"), fail.UnitID, ui.RenderDim(fail.Reason))
	}
	if rest := len(summary.Failures) - len(preview); rest > 0 {
		fmt.Printf("   ... and %d more failures\n", rest)
	}
}
