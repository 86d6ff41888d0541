package store

import (
	"fmt"
	"strings"

	"github.com/quanteast/marketsync/internal/schema"
)

// Dialect renders the engine-specific SQL the store needs. None of the
// supported engines run DDL transactionally, so every statement the store
// issues through a dialect is its own commit boundary.
type Dialect interface {
	// Name is the database/sql driver name the dialect pairs with.
	Name() string

	// Placeholder returns the bind-parameter marker for position i (1-based).
	Placeholder(i int) string

	// QuoteIdent quotes a table or column identifier.
	QuoteIdent(name string) string

	// ColumnType maps a column kind to the engine's column type.
	ColumnType(k schema.Kind) string

	// TableExistsSQL returns a query producing a count > 0 when the named
	// table exists. The table name is bound as the single parameter.
	TableExistsSQL() string

	// IndexNamesSQL returns a query listing index names for a table.
	// The table name is bound as the single parameter.
	IndexNamesSQL() string

	// RenameTableSQL renames a table.
	RenameTableSQL(from, to string) string

	// TruncateSQL empties a table.
	TruncateSQL(table string) string

	// InsertIgnoreFromSQL copies the named columns from src into dst,
	// silently skipping rows that violate a unique constraint on dst.
	InsertIgnoreFromSQL(dst, src string, columns []string) string

	// IndexColumnExpr renders one indexed column, applying the text prefix
	// length cap when the engine's index engine requires one.
	IndexColumnExpr(col IndexColumn) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite3" }
func (sqliteDialect) Placeholder(int) string     { return "?" }
func (sqliteDialect) QuoteIdent(n string) string { return `"` + n + `"` }

func (sqliteDialect) ColumnType(k schema.Kind) string {
	switch k {
	case schema.KindInt:
		return "INTEGER"
	case schema.KindFloat:
		return "REAL"
	case schema.KindTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) TableExistsSQL() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (sqliteDialect) IndexNamesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?`
}

func (d sqliteDialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d sqliteDialect) TruncateSQL(table string) string {
	// SQLite has no TRUNCATE statement.
	return fmt.Sprintf("DELETE FROM %s", d.QuoteIdent(table))
}

func (d sqliteDialect) InsertIgnoreFromSQL(dst, src string, columns []string) string {
	cols := quoteAll(d, columns)
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) SELECT %s FROM %s",
		d.QuoteIdent(dst), cols, cols, d.QuoteIdent(src))
}

func (d sqliteDialect) IndexColumnExpr(col IndexColumn) string {
	return d.QuoteIdent(col.Name)
}

type postgresDialect struct{}

func (postgresDialect) Name() string               { return "pgx" }
func (postgresDialect) Placeholder(i int) string   { return fmt.Sprintf("$%d", i) }
func (postgresDialect) QuoteIdent(n string) string { return `"` + n + `"` }

func (postgresDialect) ColumnType(k schema.Kind) string {
	switch k {
	case schema.KindInt:
		return "bigint"
	case schema.KindFloat:
		return "double precision"
	case schema.KindTime:
		return "timestamptz"
	default:
		return "text"
	}
}

func (postgresDialect) TableExistsSQL() string {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1`
}

func (postgresDialect) IndexNamesSQL() string {
	return `SELECT indexname FROM pg_indexes WHERE schemaname = 'public' AND tablename = $1`
}

func (d postgresDialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d postgresDialect) TruncateSQL(table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s", d.QuoteIdent(table))
}

func (d postgresDialect) InsertIgnoreFromSQL(dst, src string, columns []string) string {
	cols := quoteAll(d, columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		d.QuoteIdent(dst), cols, cols, d.QuoteIdent(src))
}

func (d postgresDialect) IndexColumnExpr(col IndexColumn) string {
	return d.QuoteIdent(col.Name)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string               { return "mysql" }
func (mysqlDialect) Placeholder(int) string     { return "?" }
func (mysqlDialect) QuoteIdent(n string) string { return "`" + n + "`" }

func (mysqlDialect) ColumnType(k schema.Kind) string {
	switch k {
	case schema.KindInt:
		return "BIGINT"
	case schema.KindFloat:
		return "DOUBLE"
	case schema.KindTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (mysqlDialect) TableExistsSQL() string {
	return `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?`
}

func (mysqlDialect) IndexNamesSQL() string {
	return `SELECT DISTINCT index_name FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ?`
}

func (d mysqlDialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.QuoteIdent(from), d.QuoteIdent(to))
}

func (d mysqlDialect) TruncateSQL(table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s", d.QuoteIdent(table))
}

func (d mysqlDialect) InsertIgnoreFromSQL(dst, src string, columns []string) string {
	cols := quoteAll(d, columns)
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) SELECT %s FROM %s",
		d.QuoteIdent(dst), cols, cols, d.QuoteIdent(src))
}

// IndexColumnExpr applies the prefix length cap: MySQL refuses to index a
// TEXT column without one.
func (d mysqlDialect) IndexColumnExpr(col IndexColumn) string {
	if col.Length > 0 {
		return fmt.Sprintf("%s(%d)", d.QuoteIdent(col.Name), col.Length)
	}
	return d.QuoteIdent(col.Name)
}

func quoteAll(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// dialectFor resolves a Dialect from a database/sql driver name.
func dialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite3", "sqlite":
		return sqliteDialect{}, nil
	case "pgx", "postgres", "postgresql":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}
