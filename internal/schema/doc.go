// Package schema defines the data model shared by the fetch pipeline and
// the storage layer: work units, typed columns, and row batches.
//
// A Batch is the unit of exchange between a data source and the writer.
// Column kinds are inferred once, from the first non-empty batch of a run,
// and every later batch for the same table is trusted to carry the same
// column set in the same order.
package schema
