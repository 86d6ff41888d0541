package source

import (
	"context"
	"fmt"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/quanteast/marketsync/internal/schema"
)

// Polygon fetches adjusted daily aggregate bars from the Polygon REST API.
// Each work unit is one ticker; the date range comes from the unit's
// "start" and "end" params (YYYY-MM-DD), falling back to the source's
// defaults.
type Polygon struct {
	client *polygon.Client
	start  time.Time
	end    time.Time
}

// NewPolygon creates a Polygon daily-bars source covering [start, end].
func NewPolygon(apiKey string, start, end time.Time) *Polygon {
	return &Polygon{
		client: polygon.New(apiKey),
		start:  start,
		end:    end,
	}
}

// polygonColumns is the storage layout of a daily bar. The ticker and
// trade date are strings so the feed's index spec applies uniformly across
// providers.
var polygonColumns = []schema.Column{
	{Name: "ts_code", Kind: schema.KindString},
	{Name: "trade_date", Kind: schema.KindString},
	{Name: "open", Kind: schema.KindFloat},
	{Name: "high", Kind: schema.KindFloat},
	{Name: "low", Kind: schema.KindFloat},
	{Name: "close", Kind: schema.KindFloat},
	{Name: "volume", Kind: schema.KindFloat},
}

// Fetch implements DataSource.
func (s *Polygon) Fetch(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
	start, err := unitDate(unit, "start", s.start)
	if err != nil {
		return nil, err
	}
	end, err := unitDate(unit, "end", s.end)
	if err != nil {
		return nil, err
	}

	params := models.ListAggsParams{
		Ticker:     unit.ID,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithAdjusted(true)

	var rows [][]any
	iter := s.client.ListAggs(ctx, params)
	for iter.Next() {
		agg := iter.Item()
		ts := time.Time(agg.Timestamp)
		rows = append(rows, []any{
			unit.ID,
			ts.UTC().Format("20060102"),
			agg.Open,
			agg.High,
			agg.Low,
			agg.Close,
			agg.Volume,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list aggregates for %s: %w", unit.ID, err)
	}

	return &schema.Batch{Columns: polygonColumns, Rows: rows}, nil
}

func unitDate(unit schema.WorkUnit, param string, def time.Time) (time.Time, error) {
	v, ok := unit.Params[param]
	if !ok || v == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("unit %s has invalid %s date %q: %w", unit.ID, param, v, err)
	}
	return t, nil
}
