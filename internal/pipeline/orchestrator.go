package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/quanteast/marketsync/internal/progress"
	"github.com/quanteast/marketsync/internal/schema"
	"github.com/quanteast/marketsync/internal/store"
)

// RunConfig configures one sync run.
type RunConfig struct {
	// Table is the physical table batches are written to. For blue/green
	// feeds this is the shadow table; the swap is a separate invocation.
	Table string

	// Workers is the fetch pool size, clamped to [1, 16].
	Workers int

	// Dedup selects the idempotent staged-upsert write path, keyed on
	// DedupKeys, instead of the replace-then-append shadow path.
	Dedup bool

	// DedupKeys are the unique-key columns for Dedup mode.
	DedupKeys []string

	// Resume appends to a pre-existing target table instead of replacing
	// it with the first successful batch.
	Resume bool

	// Transform, when set, is applied to every non-empty batch before it
	// is written (column mapping, numeric coercion). A transform error
	// fails the unit, not the run.
	Transform func(*schema.Batch) (*schema.Batch, error)
}

// maxWorkers bounds the fetch pool; the upstream APIs are rate limited and
// more parallelism than this only buys throttling.
const maxWorkers = 16

// SyncOrchestrator drives a worker pool over a run's work units, routes
// completed fetches into the shadow-table writer, and accounts for every
// unit in the run summary.
type SyncOrchestrator struct {
	fetcher  *RetryingFetcher
	writer   *store.ShadowTableWriter
	store    *store.Store
	progress *progress.Printer
	logger   *log.Logger
}

// NewSyncOrchestrator creates an orchestrator. progress may be nil to
// disable the progress line. If logger is nil, a default logger writing to
// stderr is used.
func NewSyncOrchestrator(fetcher *RetryingFetcher, writer *store.ShadowTableWriter, st *store.Store, pp *progress.Printer, logger *log.Logger) *SyncOrchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &SyncOrchestrator{
		fetcher:  fetcher,
		writer:   writer,
		store:    st,
		progress: pp,
		logger:   logger,
	}
}

// Run executes one sync run over the given units.
//
// Fetches run on the worker pool; results are consumed in completion
// order, not submission order, and written by the draining goroutine. The
// physical row order of the target table is therefore not deterministic
// across runs; ordering is the job of the indexed columns, not insertion
// order.
//
// Unit-level failures (fetch errors, empty results, write errors) are
// recorded in the summary and never stop the run. Run returns a non-nil
// error only for infrastructure failures that make the run pointless, such
// as the store being unreachable.
//
// Cancelling ctx stops submission of new units; in-flight fetches finish
// or fail naturally and Run returns a partial summary.
func (o *SyncOrchestrator) Run(ctx context.Context, units []schema.WorkUnit, cfg RunConfig) (*Summary, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("run config has no target table")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	// A run that cannot reach the store at all is aborted before any
	// fetch is scheduled.
	if err := o.store.RawDB().PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store unreachable: %w", err)
	}

	// Resume mode keeps an existing target: the first successful batch
	// must not replace it.
	firstBatch := !cfg.Dedup
	if cfg.Resume && firstBatch {
		exists, err := o.store.Cache().Exists(ctx, cfg.Table)
		if err != nil {
			return nil, err
		}
		if exists {
			o.logger.Printf("Resuming into existing table %s", cfg.Table)
			firstBatch = false
		}
	}

	unitCh := make(chan schema.WorkUnit)
	results := make(chan FetchResult)

	// Submitter: stops on cancellation, letting in-flight units drain.
	submitted := 0
	go func() {
		defer close(unitCh)
		for _, unit := range units {
			select {
			case unitCh <- unit:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range unitCh {
				results <- o.fetcher.Fetch(ctx, unit)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	summary := &Summary{}
	done := 0
	for res := range results {
		submitted++
		done++
		o.handleResult(ctx, res, cfg, &firstBatch, summary)
		if o.progress != nil {
			o.progress.Update(fmt.Sprintf("[%s] %d/%d units, %d records (last: %s)",
				cfg.Table, done, len(units), summary.RecordsWritten, res.Unit.ID))
		}
	}
	summary.Submitted = submitted
	if o.progress != nil {
		o.progress.Complete(fmt.Sprintf("[%s] %s", cfg.Table, summary))
	}
	o.logger.Printf("Run complete: %s", summary)

	return summary, nil
}

// handleResult routes one completed fetch: failures and empties are
// recorded, batches are transformed and written.
func (o *SyncOrchestrator) handleResult(ctx context.Context, res FetchResult, cfg RunConfig, firstBatch *bool, summary *Summary) {
	if res.Err != nil {
		summary.FailedError++
		summary.Failures = append(summary.Failures, Failure{UnitID: res.Unit.ID, Reason: res.Err.Error()})
		return
	}
	if res.Empty() {
		summary.FailedEmpty++
		return
	}

	batch := res.Batch
	if cfg.Transform != nil {
		var err error
		batch, err = cfg.Transform(batch)
		if err != nil {
			summary.FailedError++
			summary.Failures = append(summary.Failures, Failure{
				UnitID: res.Unit.ID,
				Reason: fmt.Sprintf("transform: %v", err),
			})
			return
		}
	}

	var err error
	if cfg.Dedup {
		err = o.writer.WriteDedup(ctx, cfg.Table, batch, cfg.DedupKeys)
	} else {
		err = o.writer.Write(ctx, cfg.Table, batch, *firstBatch)
	}
	if err != nil {
		summary.FailedError++
		summary.Failures = append(summary.Failures, Failure{UnitID: res.Unit.ID, Reason: err.Error()})
		return
	}

	*firstBatch = false
	summary.Succeeded++
	summary.RecordsWritten += int64(batch.Len())
}
