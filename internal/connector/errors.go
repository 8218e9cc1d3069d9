package connector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers the mirror reports for rejected queries
const (
	erDBAccessDenied      = 1044
	erAccessDenied        = 1045
	erBadDB               = 1049
	erBadField            = 1054
	erParse               = 1064
	erTooBigSelect        = 1104
	erNoSuchTable         = 1146
	erTableAccessDenied   = 1142
	erColumnAccessDenied  = 1143
	erQueryInterrupted    = 1317
	erMaxExecutionTimeout = 3024
)

// QueryError is a mirror failure with a readable message. The driver error
// stays reachable through Unwrap and is never part of Error().
type QueryError struct {
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// describeError maps driver errors to a QueryError. Context errors and
// errors that are already described pass through.
func describeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var described *QueryError
	if errors.As(err, &described) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return &QueryError{Message: mysqlMessage(myErr.Number), Err: err}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn), errors.Is(err, sql.ErrConnDone):
		return &QueryError{Message: "lost the connection to the MySQL mirror", Err: err}
	case errors.As(err, &netErr):
		return &QueryError{Message: "could not reach the MySQL mirror", Err: err}
	}
	return &QueryError{Message: "MySQL mirror request failed", Err: err}
}

func mysqlMessage(number uint16) string {
	switch number {
	case erParse:
		return "invalid query: SQL syntax error"
	case erBadField:
		return "invalid query: unknown column"
	case erNoSuchTable:
		return "table or dataset not found"
	case erBadDB:
		return "database not found on the MySQL mirror"
	case erTooBigSelect:
		return "query would examine too many rows for the configured limit; narrow the filters"
	case erAccessDenied, erDBAccessDenied, erTableAccessDenied, erColumnAccessDenied:
		return "access denied on the MySQL mirror"
	case erQueryInterrupted, erMaxExecutionTimeout:
		return "query was interrupted by the MySQL mirror"
	default:
		return fmt.Sprintf("MySQL mirror rejected the query (error %d)", number)
	}
}
