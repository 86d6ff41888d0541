package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/quanteast/marketsync/internal/schema"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps a relational database connection with the table-level
// operations the sync pipeline needs: create-from-schema, append, index,
// drop, rename, and the metadata queries behind the table state cache.
//
// Supported engines: SQLite (ncruces/go-sqlite3, embedded), PostgreSQL
// (pgx stdlib), MySQL (go-sql-driver).
type Store struct {
	conn    *sql.DB
	dialect Dialect
	cache   *TableStateCache
	logger  *log.Logger
}

// Open connects to the database identified by driver and dsn.
//
// The driver selects the SQL dialect: "sqlite3", "pgx", or "mysql".
// The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open("sqlite3", "file:marketsync.db", nil)
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(driver, dsn string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(dialect.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	st := &Store{
		conn:    conn,
		dialect: dialect,
		logger:  logger,
	}
	st.cache = newTableStateCache(st.tableExists)

	if dialect.Name() == "sqlite3" {
		// WAL keeps readers live while a run is appending.
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Dialect returns the SQL dialect the store was opened with.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Cache returns the table state cache scoped to this store.
func (s *Store) Cache() *TableStateCache {
	return s.cache
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// tableExists answers the authoritative metadata query, bypassing the cache.
func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, s.dialect.TableExistsSQL(), name).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query table metadata for %s: %w", name, err)
	}
	return count > 0, nil
}

// IndexNames lists the names of the indexes defined on a table.
func (s *Store) IndexNames(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, s.dialect.IndexNamesSQL(), table)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes for %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan index name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index names: %w", err)
	}
	return names, nil
}

// CreateTable creates a table from the given column layout, replacing any
// prior table of the same name. Columns named in primaryKey become the
// table's primary key.
func (s *Store) CreateTable(ctx context.Context, table string, cols []schema.Column, primaryKey []string) error {
	if len(cols) == 0 {
		return fmt.Errorf("cannot create table %s with no columns", table)
	}

	if err := s.Drop(ctx, table); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", s.dialect.QuoteIdent(table))
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s", s.dialect.QuoteIdent(c.Name), s.dialect.ColumnType(c.Kind))
	}
	if len(primaryKey) > 0 {
		quoted := make([]string, len(primaryKey))
		for i, name := range primaryKey {
			quoted[i] = s.dialect.QuoteIdent(name)
		}
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(quoted, ", "))
	}
	b.WriteString(")")

	if _, err := s.conn.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	s.logger.Printf("Created table %s (%d columns)", table, len(cols))
	return nil
}

// Append inserts the batch's rows into an existing table. Rows are written
// in one transaction through a prepared statement.
func (s *Store) Append(ctx context.Context, table string, batch *schema.Batch) error {
	return s.appendTo(ctx, s.conn, table, batch)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) appendTo(ctx context.Context, db execer, table string, batch *schema.Batch) error {
	if batch.Empty() {
		return nil
	}

	cols := make([]string, len(batch.Columns))
	marks := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		cols[i] = s.dialect.QuoteIdent(c.Name)
		marks[i] = s.dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.QuoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))

	insert := func(db execer) error {
		stmt, err := db.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare insert for %s: %w", table, err)
		}
		defer stmt.Close()
		for _, row := range batch.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("failed to insert row into %s: %w", table, err)
			}
		}
		return nil
	}

	// When called on the raw connection, wrap the batch in a transaction so
	// a failed unit never leaves a half-written batch behind.
	if conn, ok := db.(*sql.DB); ok {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()
		if err := insert(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit insert into %s: %w", table, err)
		}
		return nil
	}
	return insert(db)
}

// Drop removes a table if it exists and invalidates its cache entry.
func (s *Store) Drop(ctx context.Context, table string) error {
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", s.dialect.QuoteIdent(table))
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	s.cache.Invalidate(table)
	return nil
}

// Rename renames a table and invalidates both names in the cache.
func (s *Store) Rename(ctx context.Context, from, to string) error {
	if _, err := s.conn.ExecContext(ctx, s.dialect.RenameTableSQL(from, to)); err != nil {
		return fmt.Errorf("failed to rename table %s to %s: %w", from, to, err)
	}
	s.cache.Invalidate(from)
	s.cache.Invalidate(to)
	return nil
}

// Truncate empties a table. Missing tables are skipped, not an error.
func (s *Store) Truncate(ctx context.Context, table string) error {
	exists, err := s.cache.Exists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		s.logger.Printf("Table %s does not exist, skipping truncate", table)
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, s.dialect.TruncateSQL(table)); err != nil {
		return fmt.Errorf("failed to truncate table %s: %w", table, err)
	}
	return nil
}

// RowCount returns the number of rows in a table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.dialect.QuoteIdent(table))
	if err := s.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// ColumnValues returns every value of one string column, in table order.
// Sync runs enumerate their work units from a symbols table this way.
func (s *Store) ColumnValues(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s",
		s.dialect.QuoteIdent(column), s.dialect.QuoteIdent(table))
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", table, column, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan %s.%s: %w", table, column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s.%s: %w", table, column, err)
	}
	return values, nil
}

// MaxValue returns MAX(column) for a table as a string, used by incremental
// feeds to resume from the last stored trade date. Returns ok=false when
// the table is missing or empty.
func (s *Store) MaxValue(ctx context.Context, table, column string) (string, bool, error) {
	exists, err := s.cache.Exists(ctx, table)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}

	var max sql.NullString
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s",
		s.dialect.QuoteIdent(column), s.dialect.QuoteIdent(table))
	if err := s.conn.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return "", false, fmt.Errorf("failed to query max %s of %s: %w", column, table, err)
	}
	if !max.Valid {
		return "", false, nil
	}
	return max.String, true, nil
}
