package store

import (
	"context"
	"sync"
	"testing"
)

func setupWriter(t *testing.T, spec IndexSpec) (*Store, *ShadowTableWriter) {
	t.Helper()
	st := setupTestStore(t)
	prov := NewProvisioner(st, spec, testLogger())
	return st, NewShadowTableWriter(st, prov, testLogger())
}

// TestWrite_FirstBatchReplaces verifies that a run's first batch replaces
// whatever a prior crashed run left under the same name, so re-running after
// a failure is idempotent.
func TestWrite_FirstBatchReplaces(t *testing.T) {
	st, w := setupWriter(t, IndexSpec{})
	ctx := context.Background()

	// Leftovers from a crashed run.
	if err := w.Write(ctx, "daily_qfq_new", barsBatch("600000.SH", 7), true); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	// The fresh run starts over.
	if err := w.Write(ctx, "daily_qfq_new", barsBatch("600000.SH", 2), true); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := w.Write(ctx, "daily_qfq_new", barsBatch("000001.SZ", 3), false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	n, err := st.RowCount(ctx, "daily_qfq_new")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if n != 5 {
		t.Errorf("row count = %d, want 5 (stale rows survived the replace)", n)
	}
}

// TestWrite_AppliesIndexSpec verifies the first batch provisions the
// declared indexes.
func TestWrite_AppliesIndexSpec(t *testing.T) {
	st, w := setupWriter(t, testSpec())
	ctx := context.Background()

	if err := w.Write(ctx, "daily_qfq_new", barsBatch("600000.SH", 2), true); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	names, err := st.IndexNames(ctx, "daily_qfq_new")
	if err != nil {
		t.Fatalf("IndexNames() failed: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "idx_daily_qfq_new_ts_code" {
			found = true
		}
	}
	if !found {
		t.Errorf("first batch did not provision indexes (have %v)", names)
	}
}

// TestWrite_SkipsEmptyBatch verifies empty batches create nothing.
func TestWrite_SkipsEmptyBatch(t *testing.T) {
	st, w := setupWriter(t, IndexSpec{})
	ctx := context.Background()

	if err := w.Write(ctx, "daily_qfq_new", barsBatch("600000.SH", 0), true); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	exists, err := st.Cache().Exists(ctx, "daily_qfq_new")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("empty first batch created the table")
	}
}

// TestWrite_ConcurrentAppends exercises the per-table write lock: parallel
// appends to one table must all land.
func TestWrite_ConcurrentAppends(t *testing.T) {
	st, w := setupWriter(t, IndexSpec{})
	ctx := context.Background()

	if err := w.Write(ctx, "daily_qfq_new", barsBatch("600000.SH", 1), true); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.Write(ctx, "daily_qfq_new", barsBatch("000001.SZ", 5), false)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Write() failed: %v", err)
		}
	}

	n, err := st.RowCount(ctx, "daily_qfq_new")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if n != 1+8*5 {
		t.Errorf("row count = %d, want %d", n, 1+8*5)
	}
}

// TestWriteDedup_OverlapInsertsOnce verifies overlapping batches insert each
// key at most once.
func TestWriteDedup_OverlapInsertsOnce(t *testing.T) {
	st, w := setupWriter(t, IndexSpec{})
	ctx := context.Background()
	keys := []string{"ts_code", "trade_date"}

	if err := w.WriteDedup(ctx, "concept_daily", barsBatch("600000.SH", 5), keys); err != nil {
		t.Fatalf("WriteDedup() failed: %v", err)
	}
	// Same five rows again, overlapping entirely.
	if err := w.WriteDedup(ctx, "concept_daily", barsBatch("600000.SH", 5), keys); err != nil {
		t.Fatalf("WriteDedup() failed: %v", err)
	}
	// Partial overlap: three old dates plus four new codes' worth of rows.
	if err := w.WriteDedup(ctx, "concept_daily", barsBatch("000001.SZ", 4), keys); err != nil {
		t.Fatalf("WriteDedup() failed: %v", err)
	}

	n, err := st.RowCount(ctx, "concept_daily")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if n != 9 {
		t.Errorf("row count = %d, want 9", n)
	}
}

// TestWriteDedup_CreatesTargetOnce verifies the target is created on the
// first write and preserved on later ones.
func TestWriteDedup_CreatesTargetOnce(t *testing.T) {
	st, w := setupWriter(t, IndexSpec{})
	ctx := context.Background()
	keys := []string{"ts_code", "trade_date"}

	if err := w.WriteDedup(ctx, "concept_daily", barsBatch("600000.SH", 3), keys); err != nil {
		t.Fatalf("WriteDedup() failed: %v", err)
	}
	if err := w.WriteDedup(ctx, "concept_daily", barsBatch("000001.SZ", 3), keys); err != nil {
		t.Fatalf("WriteDedup() failed: %v", err)
	}

	n, err := st.RowCount(ctx, "concept_daily")
	if err != nil {
		t.Fatalf("RowCount() failed: %v", err)
	}
	if n != 6 {
		t.Errorf("row count = %d, want 6 (second write replaced the table?)", n)
	}
}

// TestWriteDedup_DropsStage verifies no staging table is left behind.
func TestWriteDedup_DropsStage(t *testing.T) {
	st, w := setupWriter(t, IndexSpec{})
	ctx := context.Background()

	if err := w.WriteDedup(ctx, "concept_daily", barsBatch("600000.SH", 3), []string{"ts_code", "trade_date"}); err != nil {
		t.Fatalf("WriteDedup() failed: %v", err)
	}

	rows, err := st.RawDB().QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'concept_daily_stage_%'`)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		t.Errorf("stage table %s left behind", name)
	}
}

// TestWriteDedup_RequiresKeys verifies a dedup write without key columns is
// rejected.
func TestWriteDedup_RequiresKeys(t *testing.T) {
	_, w := setupWriter(t, IndexSpec{})
	if err := w.WriteDedup(context.Background(), "concept_daily", barsBatch("600000.SH", 1), nil); err == nil {
		t.Fatal("WriteDedup() accepted an empty key list")
	}
}
