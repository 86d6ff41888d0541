package store

import (
	"context"
	"fmt"
	"log"
	"os"
)

// SwapCoordinator promotes a fully populated shadow table to be the table
// of record.
//
// The steps are drop-old then rename-new, each its own commit boundary:
// the supported engines do not run DDL transactionally, and this ordering
// guarantees that a crash between the steps leaves no table of record and
// a live shadow table, which is safely resumable by re-running the swap.
// Rename-then-drop could strand two copies instead.
type SwapCoordinator struct {
	store  *Store
	logger *log.Logger
}

// NewSwapCoordinator creates a swap coordinator over the given store.
// If logger is nil, a default logger writing to stderr is used.
func NewSwapCoordinator(st *Store, logger *log.Logger) *SwapCoordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[swap] ", log.LstdFlags)
	}
	return &SwapCoordinator{store: st, logger: logger}
}

// Swap replaces oldTable with newTable: drop oldTable if present, rename
// newTable to oldTable, and invalidate both names in the state cache.
//
// A missing newTable is a reported failure that leaves oldTable untouched;
// promoting a shadow table that was never written must not destroy the
// table of record.
func (sc *SwapCoordinator) Swap(ctx context.Context, newTable, oldTable string) error {
	exists, err := sc.store.cache.Exists(ctx, newTable)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("shadow table %s does not exist, refusing to swap", newTable)
	}

	oldExists, err := sc.store.cache.Exists(ctx, oldTable)
	if err != nil {
		return err
	}
	if oldExists {
		sc.logger.Printf("Dropping old table %s", oldTable)
		if err := sc.store.Drop(ctx, oldTable); err != nil {
			return err
		}
	}

	sc.logger.Printf("Renaming %s to %s", newTable, oldTable)
	if err := sc.store.Rename(ctx, newTable, oldTable); err != nil {
		return err
	}

	sc.logger.Printf("Swap complete: %s is now the table of record", oldTable)
	return nil
}
