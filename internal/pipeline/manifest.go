package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/quanteast/marketsync/internal/schema"
)

// The failure manifest is the persisted ledger of a run's failed units:
// one "unit_id<TAB>reason" line per failure. A follow-up run can consume
// it as its unit list, and its absence after a run signals a clean run.

// WriteManifest persists the summary's failures to path. When the run was
// clean the file is removed instead, so stale failure lists never survive
// a successful retry.
func WriteManifest(path string, summary *Summary) error {
	if len(summary.Failures) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove manifest %s: %w", path, err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, fail := range summary.Failures {
		// Reasons are flattened to one line to keep the format parseable.
		reason := strings.ReplaceAll(fail.Reason, "\n", " ")
		if _, err := fmt.Fprintf(w, "%s\t%s\n", fail.UnitID, reason); err != nil {
			return fmt.Errorf("failed to write manifest %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// ReadManifest loads a failure manifest back as a unit list for a retry
// run. Blank lines are skipped; a missing reason column is tolerated.
func ReadManifest(path string) ([]schema.WorkUnit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	var units []schema.WorkUnit
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, _, _ := strings.Cut(line, "\t")
		units = append(units, schema.WorkUnit{ID: id})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return units, nil
}
