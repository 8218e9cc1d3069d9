package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/sqltext"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

const (
	describeColumnsQuery = "SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position"
	avgRowLengthQuery    = "SELECT COALESCE(MAX(avg_row_length), 0) FROM information_schema.tables WHERE table_schema NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')"
	resetJoinSizeStmt    = "SET SESSION max_join_size = DEFAULT"
)

// queryer is satisfied by *sql.DB and *sql.Conn
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// DatabaseConnector is the MySQL mirror of the warehouse, used for local runs
// against a copy of the service-request tables
type DatabaseConnector struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
	DB       *sql.DB
	Logger   *logrus.Logger
}

// NewDatabaseConnector creates a new database connector
func NewDatabaseConnector(host, user, password, database, port string, logger *logrus.Logger) *DatabaseConnector {
	if host == "" {
		host = "localhost"
	}
	if user == "" {
		user = "root"
	}
	if port == "" {
		port = "3306"
	}

	return &DatabaseConnector{
		Host:     host,
		User:     user,
		Password: password,
		Database: database,
		Port:     port,
		Logger:   logger,
	}
}

// DSN returns the driver connection string
func (dc *DatabaseConnector) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true", dc.User, dc.Password, dc.Host, dc.Port, dc.Database)
}

// Connect establishes a connection to the MySQL database
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	if dc.Database == "" {
		return fmt.Errorf("database name must be provided either as an argument or as MYSQL_DATABASE environment variable")
	}

	db, err := sql.Open("mysql", dc.DSN())
	if err != nil {
		dc.Logger.Errorf("Error connecting to MySQL database: %v", err)
		return describeError(err)
	}

	if err := db.PingContext(ctx); err != nil {
		dc.Logger.Errorf("Error pinging MySQL database: %v", err)
		db.Close()
		return describeError(err)
	}

	dc.DB = db
	dc.Logger.Infof("Connected to MySQL database: %s", dc.Database)
	return nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		err := dc.DB.Close()
		if err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Info("MySQL connection closed")
		}
	}
}

func (dc *DatabaseConnector) ensureConnected(ctx context.Context) error {
	if dc.DB == nil {
		return dc.Connect(ctx)
	}
	return nil
}

// ExecuteQuery runs a read query and returns the result as a table
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) (*models.Table, error) {
	if err := dc.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return dc.queryTable(ctx, dc.DB, query, params...)
}

func (dc *DatabaseConnector) queryTable(ctx context.Context, q queryer, query string, params ...interface{}) (*models.Table, error) {
	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, describeError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		dc.Logger.Errorf("Error getting columns: %v", err)
		return nil, describeError(err)
	}

	table := &models.Table{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			dc.Logger.Errorf("Error scanning row: %v", err)
			return nil, describeError(err)
		}

		// Text columns arrive as []byte
		for i, val := range values {
			if b, ok := val.([]byte); ok {
				values[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, values)
	}

	if err := rows.Err(); err != nil {
		dc.Logger.Errorf("Error iterating rows: %v", err)
		return nil, describeError(err)
	}
	return table, nil
}

// DescribeColumns lists the columns of table. The mirror keeps each warehouse
// dataset as a MySQL schema named after the last part of the dataset path.
func (dc *DatabaseConnector) DescribeColumns(ctx context.Context, dataset, table string) ([]models.ColumnType, error) {
	result, err := dc.ExecuteQuery(ctx, describeColumnsQuery, SchemaName(dataset), sqltext.StripBackticks(table))
	if err != nil {
		return nil, err
	}

	columns := make([]models.ColumnType, 0, result.Len())
	for _, row := range result.Rows {
		name := fmt.Sprintf("%v", row[0])
		raw := strings.ToUpper(fmt.Sprintf("%v", row[1]))
		columns = append(columns, models.ColumnType{
			Name:    name,
			Type:    models.ParseDataType(raw),
			RawType: raw,
		})
	}
	return columns, nil
}

// DryRun validates the query with EXPLAIN and estimates scanned bytes as the
// examined rows times the widest average row length in the mirror
func (dc *DatabaseConnector) DryRun(ctx context.Context, query string) (int64, error) {
	plan, err := dc.ExecuteQuery(ctx, "EXPLAIN "+query)
	if err != nil {
		return 0, fmt.Errorf("explain failed: %w", err)
	}

	rowsIdx := plan.ColumnIndex("rows")
	if rowsIdx < 0 {
		return 0, fmt.Errorf("explain output has no rows column")
	}
	var examined int64
	for _, row := range plan.Rows {
		n, err := toInt64(row[rowsIdx])
		if err != nil {
			return 0, fmt.Errorf("explain rows: %w", err)
		}
		examined += n
	}

	width, err := dc.avgRowLength(ctx, dc.DB)
	if err != nil {
		return 0, err
	}
	dc.Logger.Debugf("EXPLAIN examines %d rows of up to %d bytes", examined, width)
	return examined * width, nil
}

// Run executes the query on a dedicated connection. A positive byte cap is
// turned into a max_join_size row limit for the duration of the query.
func (dc *DatabaseConnector) Run(ctx context.Context, query string, opts models.RunOptions) (*models.Table, error) {
	if err := dc.ensureConnected(ctx); err != nil {
		return nil, err
	}

	conn, err := dc.DB.Conn(ctx)
	if err != nil {
		return nil, describeError(err)
	}
	defer conn.Close()

	log := dc.Logger.WithFields(logrus.Fields{"job_id": opts.JobID})
	if len(opts.Labels) > 0 {
		log = log.WithField("labels", opts.Labels)
	}

	if opts.MaxBytesBilled > 0 {
		limit, err := dc.joinSizeLimit(ctx, conn, opts.MaxBytesBilled)
		if err != nil {
			return nil, err
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET SESSION max_join_size = %d", limit)); err != nil {
			dc.Logger.Errorf("Error setting max_join_size: %v", err)
			return nil, &QueryError{Message: "could not apply the row limit on the MySQL mirror", Err: err}
		}
		defer func() {
			// The connection goes back to the pool; it must not keep the limit
			if _, err := conn.ExecContext(context.Background(), resetJoinSizeStmt); err != nil {
				log.Warningf("Error resetting max_join_size: %v", err)
			}
		}()
		log.Debugf("Row limit for this query: %d", limit)
	}

	return dc.queryTable(ctx, conn, query)
}

func (dc *DatabaseConnector) joinSizeLimit(ctx context.Context, q queryer, maxBytes int64) (int64, error) {
	width, err := dc.avgRowLength(ctx, q)
	if err != nil {
		return 0, err
	}
	if width <= 0 {
		width = 1
	}
	limit := maxBytes / width
	if limit < 1 {
		limit = 1
	}
	return limit, nil
}

func (dc *DatabaseConnector) avgRowLength(ctx context.Context, q queryer) (int64, error) {
	result, err := dc.queryTable(ctx, q, avgRowLengthQuery)
	if err != nil {
		return 0, fmt.Errorf("reading table statistics: %w", err)
	}
	if result.Len() == 0 {
		return 0, nil
	}
	return toInt64(result.Rows[0][0])
}

// SchemaName maps a dotted dataset path onto a MySQL schema name
func SchemaName(dataset string) string {
	clean := sqltext.StripBackticks(dataset)
	if i := strings.LastIndex(clean, "."); i >= 0 {
		return clean[i+1:]
	}
	return clean
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return strconv.ParseInt(fmt.Sprintf("%v", n), 10, 64)
	}
}
