// Package pipeline drives the concurrent fetch-retry-ingest loop: a worker
// pool fetches work units from a data source with bounded retries, and the
// orchestrator routes completed results into the shadow-table writer while
// accumulating an end-of-run summary.
//
// Failures are data, not control flow. A unit that keeps failing, or for
// which the provider has no data, is recorded in the summary and the run
// continues; only infrastructure-level errors abort a run.
package pipeline
