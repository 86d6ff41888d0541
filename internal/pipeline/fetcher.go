package pipeline

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quanteast/marketsync/internal/schema"
	"github.com/quanteast/marketsync/internal/source"
)

// FetchResult is the outcome of fetching one work unit: a batch of rows,
// an empty batch (the provider has no data for the unit), or an error
// carrying the last attempt's failure.
type FetchResult struct {
	Unit  schema.WorkUnit
	Batch *schema.Batch
	Err   error
}

// Empty reports whether the fetch succeeded but returned no rows.
func (r FetchResult) Empty() bool {
	return r.Err == nil && r.Batch.Empty()
}

// RetryingFetcher calls a data source for one work unit with bounded
// retries and linear backoff (base, 2*base, 3*base, ...). The final
// failure is returned inside the FetchResult, never as a panic or a raw
// error, so the orchestrator's worker pool stays alive.
//
// An empty successful response is terminal and not retried: retrying
// cannot produce data the provider does not have.
type RetryingFetcher struct {
	source      source.DataSource
	maxAttempts int
	base        time.Duration
	logger      *log.Logger
}

// NewRetryingFetcher wraps a data source with retry behavior.
// maxAttempts < 1 is treated as 1; base <= 0 defaults to 2 seconds.
// If logger is nil, a default logger writing to stderr is used.
func NewRetryingFetcher(src source.DataSource, maxAttempts int, base time.Duration, logger *log.Logger) *RetryingFetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 2 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[fetch] ", log.LstdFlags)
	}
	return &RetryingFetcher{
		source:      src,
		maxAttempts: maxAttempts,
		base:        base,
		logger:      logger,
	}
}

// Fetch retrieves the rows for one unit, sleeping between failed attempts.
// The sleep blocks only the calling worker goroutine.
func (f *RetryingFetcher) Fetch(ctx context.Context, unit schema.WorkUnit) FetchResult {
	var batch *schema.Batch
	attempt := 0

	op := func() error {
		attempt++
		b, err := f.source.Fetch(ctx, unit)
		if err != nil {
			if ctx.Err() != nil {
				// The run is shutting down; don't burn retries on it.
				return backoff.Permanent(err)
			}
			if attempt < f.maxAttempts {
				f.logger.Printf("Fetch %s attempt %d/%d failed: %v", unit.ID, attempt, f.maxAttempts, err)
			}
			return err
		}
		batch = b
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: f.base}, uint64(f.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return FetchResult{Unit: unit, Err: err}
	}
	return FetchResult{Unit: unit, Batch: batch}
}

// linearBackOff implements backoff.BackOff with delays of base * n for the
// n-th retry, the pacing the upstream providers tolerate.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.base
}

func (b *linearBackOff) Reset() {
	b.n = 0
}
