// Package store provides database access for leasevault.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql schema_postgres.sql
var schemaFS embed.FS

// schemaVersion is recorded in schema_version once the schema is provisioned.
const schemaVersion = 1

// Dialect identifies the SQL engine behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// Store provides database operations for leasevault.
type Store struct {
	db      *sql.DB
	dsn     string
	dialect Dialect
}

const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"

// IsPostgresURL reports whether dsn names a PostgreSQL database.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgresql://") || strings.HasPrefix(dsn, "postgres://")
}

// Open opens or creates the database at the given path. A postgres:// or
// postgresql:// URL opens a PostgreSQL database instead of SQLite.
//
// The returned Store holds a single connection: operations from concurrent
// callers are serialized by database/sql.
func Open(dsn string) (*Store, error) {
	dialect := DialectSQLite
	driverDSN := dsn
	if IsPostgresURL(dsn) {
		dialect = DialectPostgres
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		driverDSN = dsn + defaultSQLiteParams
	}

	db, err := sql.Open(string(dialect), driverDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", Classify(err))
	}

	return &Store{
		db:      db,
		dsn:     dsn,
		dialect: dialect,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL engine the store talks to.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", Classify(err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", Classify(err))
	}
	return nil
}

// Rebind converts a query with ? placeholders to the format expected by the
// store's driver. PostgreSQL uses $1, $2, ...; SQLite is left unchanged.
// Queries must not contain literal question marks.
func (s *Store) Rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// InitSchema provisions the schema. Tables and views are only created if
// they don't already exist, so it is safe to call on every start.
func (s *Store) InitSchema(ctx context.Context) error {
	file := "schema_sqlite.sql"
	if s.dialect == DialectPostgres {
		file = "schema_postgres.sql"
	}
	schema, err := schemaFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("execute %s: %w", file, Classify(err))
	}

	_, err = s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO schema_version (version, applied_at) VALUES (?, ?)
		ON CONFLICT (version) DO NOTHING
	`), schemaVersion, dbNow())
	if err != nil {
		return fmt.Errorf("record schema version: %w", Classify(err))
	}
	return nil
}

// SchemaVersion returns the highest provisioned schema version, or 0 when the
// schema has not been initialized.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read schema version: %w", Classify(err))
	}
	return int(v.Int64), nil
}

// dbNow returns the current time normalized for storage: UTC with
// microsecond precision, which both SQLite and PostgreSQL round-trip exactly.
func dbNow() time.Time {
	return normalizeTime(time.Now())
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
