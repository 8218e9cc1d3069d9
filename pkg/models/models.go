package models

import (
	"sort"
	"strings"
)

// DataType is the coarse type class of a warehouse column
type DataType int

const (
	TypeOther DataType = iota
	TypeString
	TypeInt64
	TypeDate
	TypeTimestamp
)

// String returns the canonical upper-case name of the type class
func (t DataType) String() string {
	switch t {
	case TypeString:
		return "STRING"
	case TypeInt64:
		return "INT64"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "OTHER"
	}
}

// ParseDataType maps a raw warehouse type name (BigQuery or MySQL spelling) to a DataType
func ParseDataType(raw string) DataType {
	t := strings.ToUpper(strings.TrimSpace(raw))
	// Strip length/precision suffixes such as VARCHAR(255) or STRING(10)
	if i := strings.IndexAny(t, "(<"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch t {
	case "STRING", "VARCHAR", "CHAR", "TEXT", "TINYTEXT", "MEDIUMTEXT", "LONGTEXT", "ENUM":
		return TypeString
	case "INT64", "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT", "BYTEINT":
		return TypeInt64
	case "DATE":
		return TypeDate
	case "TIMESTAMP", "DATETIME":
		return TypeTimestamp
	default:
		return TypeOther
	}
}

// ColumnType represents a discovered column and its type class
type ColumnType struct {
	Name    string
	Type    DataType
	RawType string
}

// Schema is the discovered column set of one (dataset, table) pair.
// It is built once and must be treated as read-only by every holder.
type Schema struct {
	Dataset string
	Table   string
	Columns map[string]ColumnType
}

// NewSchema builds a Schema from a column list. Later duplicates of a name win.
func NewSchema(dataset, table string, columns []ColumnType) Schema {
	cols := make(map[string]ColumnType, len(columns))
	for _, c := range columns {
		cols[c.Name] = c
	}
	return Schema{Dataset: dataset, Table: table, Columns: cols}
}

// Has reports whether the column exists
func (s Schema) Has(name string) bool {
	_, ok := s.Columns[name]
	return ok
}

// TypeOf returns the type class of a column and whether it exists
func (s Schema) TypeOf(name string) (DataType, bool) {
	c, ok := s.Columns[name]
	return c.Type, ok
}

// IsString reports whether the column exists and is textual
func (s Schema) IsString(name string) bool {
	t, ok := s.TypeOf(name)
	return ok && t == TypeString
}

// Names returns the column names in sorted order
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of columns
func (s Schema) Len() int {
	return len(s.Columns)
}

// Shape is one of the fixed query templates the synthesizer can produce
type Shape int

const (
	ShapeFallbackCount Shape = iota
	ShapeCountByDate
	ShapeTopCategory
	ShapeTopNJoined
	ShapeLeaderByGroup
)

func (s Shape) String() string {
	switch s {
	case ShapeCountByDate:
		return "COUNT_BY_DATE"
	case ShapeTopCategory:
		return "TOP_CATEGORY"
	case ShapeTopNJoined:
		return "TOP_N_JOINED"
	case ShapeLeaderByGroup:
		return "LEADER_BY_GROUP"
	default:
		return "FALLBACK_COUNT"
	}
}

// QuerySpec is the synthesizer output
type QuerySpec struct {
	Text  string
	Shape Shape
}

// SafetyVerdict is the result of a static policy check on query text
type SafetyVerdict struct {
	Allowed bool
	Reason  string
}

// Allow returns a passing verdict
func Allow() SafetyVerdict {
	return SafetyVerdict{Allowed: true}
}

// Reject returns a failing verdict. A rejection always carries a reason.
func Reject(reason string) SafetyVerdict {
	if strings.TrimSpace(reason) == "" {
		panic("models: rejection without a reason")
	}
	return SafetyVerdict{Allowed: false, Reason: reason}
}

// CostEstimate is the dry-run byte estimate for one exact query text
type CostEstimate struct {
	BytesScanned int64
	QueryText    string
}

// ValidFor reports whether the estimate was produced for exactly this query text
func (e CostEstimate) ValidFor(text string) bool {
	return e.QueryText == text
}

// Table is a tabular result: ordered columns, ordered rows
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// ColumnIndex returns the position of a column (case-insensitive) or -1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Stage is a terminal state of the execution pipeline
type Stage int

const (
	StageExecuted Stage = iota
	StageRejected
	StageEstimationFailed
	StageOverBudget
	StageExecutionFailed
)

func (s Stage) String() string {
	switch s {
	case StageExecuted:
		return "EXECUTED"
	case StageRejected:
		return "REJECTED"
	case StageEstimationFailed:
		return "ESTIMATION_FAILED"
	case StageOverBudget:
		return "OVER_BUDGET"
	default:
		return "EXECUTION_FAILED"
	}
}

// ExecutionResult is the outcome of one pass through the execution gateway.
// Build it with Succeeded or Failed so OK implies rows and no error, and a
// failure never carries rows.
type ExecutionResult struct {
	OK       bool
	Rows     *Table
	Error    string
	Stage    Stage
	Estimate *CostEstimate
	// Cause is the typed error behind a failure, kept for logging and errors.As
	Cause error
}

// Succeeded builds a successful result
func Succeeded(rows *Table, estimate *CostEstimate) ExecutionResult {
	if rows == nil {
		rows = &Table{}
	}
	return ExecutionResult{OK: true, Rows: rows, Stage: StageExecuted, Estimate: estimate}
}

// Failed builds a failed result from a terminal stage and its cause
func Failed(stage Stage, cause error, estimate *CostEstimate) ExecutionResult {
	msg := "unknown failure"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	return ExecutionResult{OK: false, Error: msg, Stage: stage, Estimate: estimate, Cause: cause}
}

// RunOptions are the execution-layer settings passed to a warehouse runner
type RunOptions struct {
	// MaxBytesBilled re-asserts the byte ceiling at the engine; 0 means uncapped
	MaxBytesBilled int64
	Labels         map[string]string
	JobID          string
}
