package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/quanteast/marketsync/internal/schema"
)

// TestCache_MissFallsBackToStore verifies that a cache miss consults the
// authoritative metadata query instead of answering "false".
func TestCache_MissFallsBackToStore(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// Create the table behind the cache's back.
	if _, err := st.RawDB().Exec(`CREATE TABLE side_channel (x TEXT)`); err != nil {
		t.Fatalf("raw create failed: %v", err)
	}

	exists, err := st.Cache().Exists(ctx, "side_channel")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if !exists {
		t.Error("Exists() = false for a table present in the store")
	}
}

// TestCache_MissPopulates verifies that a resolved miss is cached: the
// second lookup answers from memory even after the table is dropped
// externally. Staleness after out-of-process drops is the documented
// trade-off of the cache.
func TestCache_MissPopulates(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if _, err := st.RawDB().Exec(`CREATE TABLE ephemeral (x TEXT)`); err != nil {
		t.Fatalf("raw create failed: %v", err)
	}
	if exists, _ := st.Cache().Exists(ctx, "ephemeral"); !exists {
		t.Fatal("Exists() = false after create")
	}

	if _, err := st.RawDB().Exec(`DROP TABLE ephemeral`); err != nil {
		t.Fatalf("raw drop failed: %v", err)
	}
	if exists, _ := st.Cache().Exists(ctx, "ephemeral"); !exists {
		t.Error("cached entry was not served after external drop; cache is not populating on miss")
	}
}

// TestCache_Invalidate verifies that invalidation forces the next lookup
// back to the store.
func TestCache_Invalidate(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	st.Cache().MarkCreated("phantom")
	if exists, _ := st.Cache().Exists(ctx, "phantom"); !exists {
		t.Fatal("MarkCreated() entry not visible")
	}

	st.Cache().Invalidate("phantom")
	exists, err := st.Cache().Exists(ctx, "phantom")
	if err != nil {
		t.Fatalf("Exists() failed: %v", err)
	}
	if exists {
		t.Error("Exists() = true for an invalidated, non-existent table")
	}
}

// TestCache_DropAndRenameInvalidate verifies the store's DDL operations
// keep the cache in sync.
func TestCache_DropAndRenameInvalidate(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	cols := []schema.Column{{Name: "x", Kind: schema.KindString}}
	if err := st.CreateTable(ctx, "a", cols, nil); err != nil {
		t.Fatalf("CreateTable() failed: %v", err)
	}
	st.Cache().MarkCreated("a")

	if err := st.Rename(ctx, "a", "b"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	// "a" must be invalidated; the authoritative query says it is gone.
	if exists, _ := st.Cache().Exists(ctx, "a"); exists {
		t.Error("Exists(a) = true after rename away")
	}
	if exists, _ := st.Cache().Exists(ctx, "b"); !exists {
		t.Error("Exists(b) = false after rename")
	}

	if err := st.Drop(ctx, "b"); err != nil {
		t.Fatalf("Drop() failed: %v", err)
	}
	if exists, _ := st.Cache().Exists(ctx, "b"); exists {
		t.Error("Exists(b) = true after drop")
	}
}

// TestCache_ConcurrentLookups hammers the cache from many goroutines to
// shake out lock bugs under -race.
func TestCache_ConcurrentLookups(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	cols := []schema.Column{{Name: "x", Kind: schema.KindString}}
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("t%d", i)
		if err := st.CreateTable(ctx, name, cols, nil); err != nil {
			t.Fatalf("CreateTable(%s) failed: %v", name, err)
		}
	}

	done := make(chan error, 16)
	for w := 0; w < 16; w++ {
		go func(w int) {
			name := fmt.Sprintf("t%d", w%4)
			exists, err := st.Cache().Exists(ctx, name)
			if err == nil && !exists {
				err = fmt.Errorf("Exists(%s) = false", name)
			}
			done <- err
		}(w)
	}
	for i := 0; i < 16; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}
