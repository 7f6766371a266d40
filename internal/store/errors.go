package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrConstraintViolation reports a referential or uniqueness failure on
	// write. The operation was rolled back.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInconsistentState reports stored data that breaks an invariant the
	// repository relies on, such as a tenant with only one name field set.
	// It signals prior corruption rather than a bad request.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrInfrastructure reports a connection-level database failure.
	ErrInfrastructure = errors.New("database unavailable")
)

// Classify tags a driver error with ErrConstraintViolation or
// ErrInfrastructure when it is one of those kinds. Other errors are returned
// unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConstraintViolation), errors.Is(err, ErrInfrastructure):
		return err
	case isConstraintError(err):
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	case isConnectionError(err):
		return fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	return err
}

// sqliteError extracts a sqlite3.Error from err, handling both value and
// pointer forms.
func sqliteError(err error) (sqlite3.Error, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr, true
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return *sqliteErrPtr, true
	}
	return sqlite3.Error{}, false
}

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
func isSQLiteError(err error, substr string) bool {
	if sqliteErr, ok := sqliteError(err); ok {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	return false
}

func isConstraintError(err error) bool {
	if sqliteErr, ok := sqliteError(err); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsIntegrityConstraintViolation(pgErr.Code)
	}
	return false
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if sqliteErr, ok := sqliteError(err); ok {
		switch sqliteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB,
			sqlite3.ErrCorrupt, sqlite3.ErrFull, sqlite3.ErrBusy, sqlite3.ErrLocked:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// isMissingTable reports whether err means a table does not exist yet.
func isMissingTable(err error) bool {
	if isSQLiteError(err, "no such table") {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
