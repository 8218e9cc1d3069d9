package generator

import (
	"fmt"
	"strings"
	"time"
)

// Dialect renders the few warehouse-specific fragments the templates need
type Dialect interface {
	Name() string
	// TableRef renders a fully qualified, quoted table reference
	TableRef(qualified string) string
	CastToString(expr string) string
	CastToInt(expr string) string
	DateLiteral(d time.Time) string
	// DateOf truncates a timestamp expression to a date
	DateOf(expr string) string
	// DaysAgo renders CURRENT_DATE minus n days
	DaysAgo(n int) string
}

// BigQueryDialect renders GoogleSQL
type BigQueryDialect struct{}

func (BigQueryDialect) Name() string { return "bigquery" }

func (BigQueryDialect) TableRef(qualified string) string {
	return "`" + qualified + "`"
}

func (BigQueryDialect) CastToString(expr string) string {
	return fmt.Sprintf("CAST(%s AS STRING)", expr)
}

func (BigQueryDialect) CastToInt(expr string) string {
	return fmt.Sprintf("CAST(%s AS INT64)", expr)
}

func (BigQueryDialect) DateLiteral(d time.Time) string {
	return "DATE '" + d.Format("2006-01-02") + "'"
}

func (BigQueryDialect) DateOf(expr string) string {
	return fmt.Sprintf("DATE(%s)", expr)
}

func (BigQueryDialect) DaysAgo(n int) string {
	return fmt.Sprintf("DATE_SUB(CURRENT_DATE(), INTERVAL %d DAY)", n)
}

// MySQLDialect renders MySQL 8 SQL for the local mirror
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

// TableRef quotes each dot-separated part; a project prefix is dropped
// because MySQL only knows schema.table
func (MySQLDialect) TableRef(qualified string) string {
	parts := strings.Split(qualified, ".")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, ".")
}

func (MySQLDialect) CastToString(expr string) string {
	return fmt.Sprintf("CAST(%s AS CHAR)", expr)
}

func (MySQLDialect) CastToInt(expr string) string {
	return fmt.Sprintf("CAST(%s AS SIGNED)", expr)
}

func (MySQLDialect) DateLiteral(d time.Time) string {
	return "DATE '" + d.Format("2006-01-02") + "'"
}

func (MySQLDialect) DateOf(expr string) string {
	return fmt.Sprintf("DATE(%s)", expr)
}

func (MySQLDialect) DaysAgo(n int) string {
	return fmt.Sprintf("DATE_SUB(CURRENT_DATE(), INTERVAL %d DAY)", n)
}

// DialectFor returns the dialect registered under name, defaulting to BigQuery
func DialectFor(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return MySQLDialect{}
	default:
		return BigQueryDialect{}
	}
}
