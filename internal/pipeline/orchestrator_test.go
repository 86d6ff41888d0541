package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/quanteast/marketsync/internal/schema"
	"github.com/quanteast/marketsync/internal/source"
	"github.com/quanteast/marketsync/internal/store"
)

func setupOrchestrator(t *testing.T, src source.DataSource) (*store.Store, *SyncOrchestrator) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open("sqlite3", "file:"+path, testLogger())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	prov := store.NewProvisioner(st, store.IndexSpec{}, testLogger())
	writer := store.NewShadowTableWriter(st, prov, testLogger())
	fetcher := NewRetryingFetcher(src, 1, time.Millisecond, testLogger())
	return st, NewSyncOrchestrator(fetcher, writer, st, nil, testLogger())
}

func makeUnits(n int) []schema.WorkUnit {
	units := make([]schema.WorkUnit, n)
	for i := range units {
		units[i] = schema.WorkUnit{ID: strconv.Itoa(i)}
	}
	return units
}

// TestRun_MixedOutcomeAccounting drives 100 units through an 8-worker run
// where even units return ten rows and odd units return none, and checks
// the summary and the landed row count line up exactly.
func TestRun_MixedOutcomeAccounting(t *testing.T) {
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		n, err := strconv.Atoi(unit.ID)
		if err != nil {
			return nil, err
		}
		if n%2 == 0 {
			return unitBatch(10), nil
		}
		return unitBatch(0), nil
	})
	st, orch := setupOrchestrator(t, src)

	summary, err := orch.Run(context.Background(), makeUnits(100), RunConfig{
		Table:   "daily_qfq_new",
		Workers: 8,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Submitted != 100 {
		t.Errorf("submitted = %d, want 100", summary.Submitted)
	}
	if summary.Succeeded != 50 {
		t.Errorf("succeeded = %d, want 50", summary.Succeeded)
	}
	if summary.FailedEmpty != 50 {
		t.Errorf("failed_empty = %d, want 50", summary.FailedEmpty)
	}
	if summary.FailedError != 0 {
		t.Errorf("failed_error = %d, want 0", summary.FailedError)
	}
	if summary.RecordsWritten != 500 {
		t.Errorf("records_written = %d, want 500", summary.RecordsWritten)
	}

	rows, err := st.RowCount(context.Background(), "daily_qfq_new")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if rows != 500 {
		t.Errorf("shadow table has %d rows, want 500", rows)
	}
	if !summary.Clean() {
		t.Error("summary should be clean")
	}
}

// TestRun_FetchFailuresAreData verifies fetch errors land in the summary
// and manifest list without stopping the run.
func TestRun_FetchFailuresAreData(t *testing.T) {
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		if unit.ID == "3" || unit.ID == "7" {
			return nil, errors.New("HTTP 503")
		}
		return unitBatch(2), nil
	})
	_, orch := setupOrchestrator(t, src)

	summary, err := orch.Run(context.Background(), makeUnits(10), RunConfig{
		Table:   "daily_qfq_new",
		Workers: 4,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if summary.Succeeded != 8 {
		t.Errorf("succeeded = %d, want 8", summary.Succeeded)
	}
	if summary.FailedError != 2 {
		t.Errorf("failed_error = %d, want 2", summary.FailedError)
	}
	if len(summary.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(summary.Failures))
	}
	for _, f := range summary.Failures {
		if f.UnitID != "3" && f.UnitID != "7" {
			t.Errorf("unexpected failed unit %q", f.UnitID)
		}
		if !strings.Contains(f.Reason, "503") {
			t.Errorf("failure reason %q lost the cause", f.Reason)
		}
	}
	if summary.Clean() {
		t.Error("summary with failed units should not be clean")
	}
}

// TestRun_TransformErrorFailsUnit verifies a transform error fails the
// unit, not the run.
func TestRun_TransformErrorFailsUnit(t *testing.T) {
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		return unitBatch(1), nil
	})
	_, orch := setupOrchestrator(t, src)

	summary, err := orch.Run(context.Background(), makeUnits(4), RunConfig{
		Table:   "daily_qfq_new",
		Workers: 1,
		Transform: func(b *schema.Batch) (*schema.Batch, error) {
			return nil, errors.New("bad column layout")
		},
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.FailedError != 4 {
		t.Errorf("failed_error = %d, want 4", summary.FailedError)
	}
	for _, f := range summary.Failures {
		if !strings.HasPrefix(f.Reason, "transform:") {
			t.Errorf("failure reason %q missing transform prefix", f.Reason)
		}
	}
}

// TestRun_DedupMode verifies the dedup write path is exercised end to end:
// two units producing identical rows land once.
func TestRun_DedupMode(t *testing.T) {
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		return unitBatch(3), nil
	})
	st, orch := setupOrchestrator(t, src)

	summary, err := orch.Run(context.Background(), makeUnits(2), RunConfig{
		Table:     "concept_daily",
		Workers:   2,
		Dedup:     true,
		DedupKeys: []string{"ts_code", "close"},
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", summary.Succeeded)
	}

	rows, err := st.RowCount(context.Background(), "concept_daily")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if rows != 3 {
		t.Errorf("table has %d rows, want 3 (duplicates landed)", rows)
	}
}

// TestRun_ResumeAppends verifies resume mode keeps the rows a prior run
// already landed.
func TestRun_ResumeAppends(t *testing.T) {
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		return unitBatch(5), nil
	})
	st, orch := setupOrchestrator(t, src)
	ctx := context.Background()

	first, err := orch.Run(ctx, makeUnits(2), RunConfig{Table: "daily_qfq_new", Workers: 2})
	if err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	if first.RecordsWritten != 10 {
		t.Fatalf("first run wrote %d records, want 10", first.RecordsWritten)
	}

	if _, err := orch.Run(ctx, makeUnits(2), RunConfig{Table: "daily_qfq_new", Workers: 2, Resume: true}); err != nil {
		t.Fatalf("resumed Run() failed: %v", err)
	}

	rows, err := st.RowCount(ctx, "daily_qfq_new")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if rows != 20 {
		t.Errorf("table has %d rows after resume, want 20", rows)
	}
}

// TestRun_CancelReturnsPartialSummary verifies cancellation stops
// submission and the partial summary still accounts for every drained
// unit.
func TestRun_CancelReturnsPartialSummary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetched := 0
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		fetched++
		if fetched == 5 {
			cancel()
		}
		return unitBatch(1), nil
	})
	_, orch := setupOrchestrator(t, src)

	summary, err := orch.Run(ctx, makeUnits(1000), RunConfig{Table: "daily_qfq_new", Workers: 1})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Submitted >= 1000 {
		t.Errorf("submitted = %d, cancellation did not stop submission", summary.Submitted)
	}
	got := summary.Succeeded + summary.FailedEmpty + summary.FailedError
	if got != summary.Submitted {
		t.Errorf("outcomes %d != submitted %d", got, summary.Submitted)
	}
}

// TestRun_NoTable rejects a config without a target table.
func TestRun_NoTable(t *testing.T) {
	_, orch := setupOrchestrator(t, source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		return unitBatch(1), nil
	}))
	if _, err := orch.Run(context.Background(), makeUnits(1), RunConfig{}); err == nil {
		t.Fatal("Run() accepted an empty target table")
	}
}

// TestRun_WriteFailureContinues verifies a write error fails the unit and
// the rest of the run proceeds. The mismatched second layout makes its
// append fail against the table the first batch created.
func TestRun_WriteFailureContinues(t *testing.T) {
	src := source.Func(func(ctx context.Context, unit schema.WorkUnit) (*schema.Batch, error) {
		if unit.ID == "1" {
			return &schema.Batch{
				Columns: []schema.Column{{Name: "unrelated", Kind: schema.KindString}},
				Rows:    [][]any{{"x"}},
			}, nil
		}
		return unitBatch(2), nil
	})
	_, orch := setupOrchestrator(t, src)

	summary, err := orch.Run(context.Background(), makeUnits(3), RunConfig{
		Table:   "daily_qfq_new",
		Workers: 1,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if summary.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", summary.Succeeded)
	}
	if summary.FailedError != 1 {
		t.Errorf("failed_error = %d, want 1", summary.FailedError)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].UnitID != "1" {
		t.Errorf("failures = %+v, want unit 1", summary.Failures)
	}
}

// TestSummary_PreviewAndString round out the summary helpers.
func TestSummary_PreviewAndString(t *testing.T) {
	s := &Summary{Submitted: 3, Succeeded: 1, FailedError: 2, RecordsWritten: 40}
	for i := 0; i < 2; i++ {
		s.Failures = append(s.Failures, Failure{UnitID: fmt.Sprintf("u%d", i), Reason: "boom"})
	}

	if got := s.Preview(1); len(got) != 1 || got[0].UnitID != "u0" {
		t.Errorf("Preview(1) = %+v", got)
	}
	if got := s.Preview(10); len(got) != 2 {
		t.Errorf("Preview(10) returned %d failures, want 2", len(got))
	}
	want := "submitted=3 succeeded=1 empty=0 failed=2 records=40"
	if s.String() != want {
		t.Errorf("String() = %q, want %q", s.String(), want)
	}
}
