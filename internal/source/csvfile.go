package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/quanteast/marketsync/internal/schema"
)

// CSVDir serves work units from a directory of CSV files, one file per
// unit, named <unit id>.csv with a header row. All values are read as
// strings; the feed's column mapping handles numeric coercion.
//
// A missing file is the provider saying "no data": an empty batch, not an
// error.
type CSVDir struct {
	Dir string
}

// NewCSVDir creates a CSV directory source.
func NewCSVDir(dir string) *CSVDir {
	return &CSVDir{Dir: dir}
}

// Fetch implements DataSource.
func (s *CSVDir) Fetch(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.Dir, unit.ID+".csv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return &schema.Batch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return readCSV(f, path)
}

// readCSV parses a header row plus data rows into an untyped string batch.
func readCSV(r io.Reader, name string) (*schema.Batch, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return &schema.Batch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	var rows [][]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row in %s: %w", name, err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		rows = append(rows, row)
	}

	return schema.Infer(header, rows)
}
