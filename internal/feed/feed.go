// Package feed holds the per-feed configuration that turns the generic
// pipeline into a concrete market-data sync: target table, write mode,
// provider column mapping, numeric coercion, and index specification.
package feed

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quanteast/marketsync/internal/schema"
	"github.com/quanteast/marketsync/internal/store"
)

// Mode selects how a feed's batches land in the store.
type Mode int

const (
	// ModeReplace populates a shadow table from scratch each run and is
	// promoted with a separate swap invocation.
	ModeReplace Mode = iota
	// ModeDedup upserts into the persistent table of record, de-duplicated
	// on the feed's key columns, so overlapping date ranges are safe.
	ModeDedup
)

// Feed describes one data feed end to end.
type Feed struct {
	// Name is the CLI-facing feed identifier.
	Name string
	// Table is the table of record.
	Table string
	// Mode selects shadow-replace or dedup-upsert writes.
	Mode Mode
	// Keys are the unique-key columns for ModeDedup.
	Keys []string

	// UnitsTable/UnitsColumn name where the run's work units are
	// enumerated from (e.g. the symbols table).
	UnitsTable  string
	UnitsColumn string

	// Columns maps provider column names to storage column names.
	// Unmapped provider columns pass through unchanged.
	Columns map[string]string
	// Numeric lists storage columns coerced from strings to floats.
	Numeric []string
	// DateColumn is normalized to YYYYMMDD and also answers MAX() lookups
	// for incremental runs.
	DateColumn string

	// Indexes is the feed's declarative index specification.
	Indexes []store.IndexDef
}

// TargetTable returns the physical table a run writes to: the shadow table
// for replace feeds, the table of record for dedup feeds.
func (f *Feed) TargetTable() string {
	if f.Mode == ModeReplace {
		return store.ShadowName(f.Table)
	}
	return f.Table
}

// MapBatch applies the feed's column mapping to a raw provider batch:
// renames columns, coerces the numeric ones, and normalizes the date
// column. The input batch is modified in place and returned.
func (f *Feed) MapBatch(b *schema.Batch) (*schema.Batch, error) {
	for i := range b.Columns {
		if mapped, ok := f.Columns[b.Columns[i].Name]; ok {
			b.Columns[i].Name = mapped
		}
	}
	b.CoerceFloat(f.Numeric...)

	if f.DateColumn != "" {
		ci := b.Column(f.DateColumn)
		if ci >= 0 {
			for _, row := range b.Rows {
				s, ok := row[ci].(string)
				if !ok {
					continue
				}
				norm, err := NormalizeYMD(s)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", f.DateColumn, err)
				}
				row[ci] = norm
			}
		}
	}
	return b, nil
}

// NormalizeYMD converts a date in any punctuation-separated form to
// YYYYMMDD, the canonical trade-date format in storage.
func NormalizeYMD(text string) (string, error) {
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 8 {
		return "", fmt.Errorf("unrecognized date %q", text)
	}
	if _, err := time.Parse("20060102", d); err != nil {
		return "", fmt.Errorf("unrecognized date %q", text)
	}
	return d, nil
}

// builtins are the bundled feeds, the Go rendition of what used to be one
// script per feed.
var builtins = map[string]*Feed{
	"daily_qfq": {
		Name:        "daily_qfq",
		Table:       "daily_qfq",
		Mode:        ModeReplace,
		UnitsTable:  "stock_basic",
		UnitsColumn: "ts_code",
		Numeric:     []string{"open", "high", "low", "close", "volume", "amount"},
		DateColumn:  "trade_date",
		Indexes: []store.IndexDef{
			{Name: "ts_code", Kind: store.IndexSingle,
				Columns: []store.IndexColumn{{Name: "ts_code", Length: 20}}},
			{Name: "trade_date", Kind: store.IndexSingle,
				Columns: []store.IndexColumn{{Name: "trade_date", Length: 20}}},
			{Name: "ts_code_trade_date", Kind: store.IndexComposite,
				Columns: []store.IndexColumn{{Name: "ts_code", Length: 20}, {Name: "trade_date", Length: 20}}},
		},
	},
	"concept_daily": {
		Name:        "concept_daily",
		Table:       "concept_daily",
		Mode:        ModeDedup,
		Keys:        []string{"concept_code", "trade_date"},
		UnitsTable:  "concept_list",
		UnitsColumn: "concept_code",
		Columns: map[string]string{
			"日期":  "trade_date",
			"开盘价": "open",
			"最高价": "high",
			"最低价": "low",
			"收盘价": "close",
			"成交量": "volume",
			"成交额": "amount",
		},
		Numeric:    []string{"open", "high", "low", "close", "volume", "amount"},
		DateColumn: "trade_date",
		Indexes: []store.IndexDef{
			{Name: "concept_code", Kind: store.IndexSingle,
				Columns: []store.IndexColumn{{Name: "concept_code", Length: 20}}},
			{Name: "trade_date", Kind: store.IndexSingle,
				Columns: []store.IndexColumn{{Name: "trade_date", Length: 20}}},
			{Name: "concept_code_trade_date", Kind: store.IndexComposite,
				Columns: []store.IndexColumn{{Name: "concept_code", Length: 20}, {Name: "trade_date", Length: 20}}},
		},
	},
	"stock_hot_rank": {
		Name:        "stock_hot_rank",
		Table:       "stock_hot_rank",
		Mode:        ModeDedup,
		Keys:        []string{"stock_code", "record_date"},
		UnitsTable:  "stock_basic",
		UnitsColumn: "ts_code",
		Numeric:     []string{"ranking", "hot_value"},
		DateColumn:  "record_date",
		Indexes: []store.IndexDef{
			{Name: "stock_code", Kind: store.IndexSingle,
				Columns: []store.IndexColumn{{Name: "stock_code", Length: 20}}},
			{Name: "record_date", Kind: store.IndexSingle,
				Columns: []store.IndexColumn{{Name: "record_date", Length: 20}}},
			{Name: "stock_code_record_date", Kind: store.IndexComposite,
				Columns: []store.IndexColumn{{Name: "stock_code", Length: 20}, {Name: "record_date", Length: 20}}},
		},
	},
}

// Lookup returns the named feed definition.
func Lookup(name string) (*Feed, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown feed %q (have: %s)", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names lists the bundled feed names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexSpec collects every bundled feed's index definitions into one spec,
// keyed by logical table name.
func IndexSpec() store.IndexSpec {
	spec := make(store.IndexSpec, len(builtins))
	for _, f := range builtins {
		spec[f.Table] = f.Indexes
	}
	return spec
}
