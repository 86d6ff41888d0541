package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IndexKind classifies an index definition.
type IndexKind string

const (
	// IndexPrimary marks columns that become the table's primary key.
	// It is applied at create-table time, not as a separate CREATE INDEX.
	IndexPrimary IndexKind = "primary"
	// IndexUnique creates a unique index.
	IndexUnique IndexKind = "unique"
	// IndexSingle creates a plain single-column index.
	IndexSingle IndexKind = "single"
	// IndexComposite creates a plain multi-column index.
	IndexComposite IndexKind = "composite"
)

// IndexColumn names one indexed column with an optional prefix length cap
// for variable-length text columns. Engines whose index engine does not
// need prefix lengths ignore the cap.
type IndexColumn struct {
	Name   string `yaml:"name"`
	Length int    `yaml:"length,omitempty"`
}

// IndexDef is one index in a table's declarative index specification.
type IndexDef struct {
	Name    string        `yaml:"name"`
	Kind    IndexKind     `yaml:"kind"`
	Columns []IndexColumn `yaml:"columns"`
}

// IndexSpec maps a logical table name to the ordered list of indexes the
// table should carry. Shadow tables reuse the spec of their logical name:
// "daily_qfq_new" is provisioned from the "daily_qfq" entry.
type IndexSpec map[string][]IndexDef

// LoadIndexSpec reads an IndexSpec from YAML.
func LoadIndexSpec(data []byte) (IndexSpec, error) {
	var spec IndexSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse index spec: %w", err)
	}
	return spec, nil
}

// Merge overlays other onto the spec, replacing colliding table entries.
func (s IndexSpec) Merge(other IndexSpec) {
	for table, defs := range other {
		s[table] = defs
	}
}

// shadowSuffix is appended to a table of record's name to form its shadow
// table's name.
const shadowSuffix = "_new"

// LogicalName strips the shadow suffix so a shadow table resolves to the
// spec of its table of record.
func LogicalName(table string) string {
	return strings.TrimSuffix(table, shadowSuffix)
}

// ShadowName returns the shadow table name for a table of record.
func ShadowName(table string) string {
	return table + shadowSuffix
}

// Provisioner applies an IndexSpec to newly created tables.
type Provisioner struct {
	store  *Store
	spec   IndexSpec
	logger *log.Logger
}

// NewProvisioner creates an index provisioner over the given store.
// If logger is nil, a default logger writing to stderr is used.
func NewProvisioner(st *Store, spec IndexSpec, logger *log.Logger) *Provisioner {
	if logger == nil {
		logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}
	return &Provisioner{store: st, spec: spec, logger: logger}
}

// PrimaryKey returns the primary-key column names from the table's spec,
// if it declares any. The writer folds them into CREATE TABLE.
func (p *Provisioner) PrimaryKey(table string) []string {
	for _, def := range p.spec[LogicalName(table)] {
		if def.Kind != IndexPrimary {
			continue
		}
		names := make([]string, len(def.Columns))
		for i, c := range def.Columns {
			names[i] = c.Name
		}
		return names
	}
	return nil
}

// EnsureIndexes creates every index the spec declares for the table's
// logical name, skipping indexes that already exist and indexes referencing
// columns the table does not have.
//
// Idempotent and safe to call from workers racing to create the same
// shadow table: a duplicate-index error from losing the race is logged and
// ignored, never fatal.
func (p *Provisioner) EnsureIndexes(ctx context.Context, table string, columns []string) error {
	defs := p.spec[LogicalName(table)]
	if len(defs) == 0 {
		return nil
	}

	existing, err := p.store.IndexNames(ctx, table)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		have[name] = struct{}{}
	}
	present := make(map[string]struct{}, len(columns))
	for _, name := range columns {
		present[name] = struct{}{}
	}

	for _, def := range defs {
		if def.Kind == IndexPrimary {
			continue
		}
		name := indexName(table, def.Name)
		if _, ok := have[name]; ok {
			continue
		}
		if !columnsPresent(def.Columns, present) {
			p.logger.Printf("Skipping index %s: table %s is missing indexed columns", name, table)
			continue
		}
		p.createIndex(ctx, name, table, def)
	}
	return nil
}

// EnsureUnique guarantees a unique index named for the given columns exists
// on the table, creating it if absent. Used by the de-duplicating writer
// before an insert-that-skips-duplicates.
func (p *Provisioner) EnsureUnique(ctx context.Context, table string, columns []string) error {
	cols := make([]IndexColumn, len(columns))
	for i, name := range columns {
		cols[i] = IndexColumn{Name: name, Length: defaultTextCap}
	}
	def := IndexDef{
		Name:    "uniq_" + strings.Join(columns, "_"),
		Kind:    IndexUnique,
		Columns: cols,
	}

	existing, err := p.store.IndexNames(ctx, table)
	if err != nil {
		return err
	}
	name := indexName(table, def.Name)
	for _, n := range existing {
		if n == name {
			return nil
		}
	}
	p.createIndex(ctx, name, table, def)
	return nil
}

// defaultTextCap is the prefix cap applied to synthesized unique indexes on
// engines that require one for text columns.
const defaultTextCap = 50

func (p *Provisioner) createIndex(ctx context.Context, name, table string, def IndexDef) {
	exprs := make([]string, len(def.Columns))
	for i, col := range def.Columns {
		exprs[i] = p.store.dialect.IndexColumnExpr(col)
	}

	unique := ""
	if def.Kind == IndexUnique {
		unique = "UNIQUE "
	}
	query := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique,
		p.store.dialect.QuoteIdent(name),
		p.store.dialect.QuoteIdent(table),
		strings.Join(exprs, ", "))

	if _, err := p.store.conn.ExecContext(ctx, query); err != nil {
		// Most likely another worker won the race to create it.
		p.logger.Printf("WARNING: failed to create index %s on %s: %v", name, table, err)
		return
	}
	p.logger.Printf("Created index %s on %s", name, table)
}

func indexName(table, defName string) string {
	return fmt.Sprintf("idx_%s_%s", table, defName)
}

func columnsPresent(cols []IndexColumn, present map[string]struct{}) bool {
	for _, c := range cols {
		if _, ok := present[c.Name]; !ok {
			return false
		}
	}
	return true
}
