// Package source defines the data-source capability the pipeline fetches
// from, plus the bundled provider adapters: local CSV directories,
// S3-hosted gzipped flat files, and the Polygon REST API.
package source

import (
	"context"

	"github.com/quanteast/marketsync/internal/schema"
)

// DataSource fetches the rows for one work unit from an external provider.
//
// A nil error with an empty batch means the provider has no data for the
// unit; that is a terminal answer, distinct from a fetch error, and is
// never retried. Implementations should honor ctx for network I/O.
type DataSource interface {
	Fetch(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error)
}

// Func adapts a plain function to the DataSource interface. Handy in tests
// and for one-off sources.
type Func func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error)

// Fetch implements DataSource.
func (f Func) Fetch(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
	return f(ctx, unit)
}
