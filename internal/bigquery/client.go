// Package bigquery is the production warehouse backend. It answers the three
// capabilities the pipeline depends on: describing a table's columns, dry-run
// byte estimates and capped execution.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/sqltext"
	"github.com/v1nybarreto/genai-agent/pkg/models"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Client wraps a BigQuery client with the job settings the agent uses
type Client struct {
	ProjectID string
	Location  string
	Labels    map[string]string
	BQ        *bq.Client
	Logger    *logrus.Logger
}

// NewClient connects with Application Default Credentials
func NewClient(ctx context.Context, projectID, location string, labels map[string]string, logger *logrus.Logger) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id must be provided either as an argument or as PROJECT_ID environment variable")
	}

	client, err := bq.NewClient(ctx, projectID)
	if err != nil {
		logger.Errorf("Error creating BigQuery client: %v", err)
		return nil, err
	}
	if location != "" {
		client.Location = location
	}

	logger.Infof("Connected to BigQuery project: %s (%s)", projectID, location)
	return &Client{
		ProjectID: projectID,
		Location:  location,
		Labels:    labels,
		BQ:        client,
		Logger:    logger,
	}, nil
}

// Close releases the underlying client
func (c *Client) Close() {
	if c.BQ == nil {
		return
	}
	if err := c.BQ.Close(); err != nil {
		c.Logger.Errorf("Error closing BigQuery client: %v", err)
	} else {
		c.Logger.Info("BigQuery client closed")
	}
}

type columnRow struct {
	ColumnName string `bigquery:"column_name"`
	DataType   string `bigquery:"data_type"`
}

// DescribeColumns lists column names and types from INFORMATION_SCHEMA.COLUMNS.
// The dataset is part of the FROM path and cannot be a parameter, so it is
// validated again here; the table name is bound as a query parameter.
func (c *Client) DescribeColumns(ctx context.Context, dataset, table string) ([]models.ColumnType, error) {
	ds, err := sqltext.CleanIdentifier(dataset)
	if err != nil {
		return nil, err
	}

	q := c.BQ.Query(fmt.Sprintf(
		"SELECT column_name, data_type FROM `%s.INFORMATION_SCHEMA.COLUMNS` WHERE table_name = @table ORDER BY ordinal_position",
		ds,
	))
	q.Parameters = []bq.QueryParameter{{Name: "table", Value: table}}
	q.Labels = c.Labels

	it, err := q.Read(ctx)
	if err != nil {
		return nil, describeError(err)
	}

	var columns []models.ColumnType
	for {
		var row columnRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, describeError(err)
		}
		columns = append(columns, models.ColumnType{
			Name:    row.ColumnName,
			Type:    models.ParseDataType(row.DataType),
			RawType: strings.ToUpper(row.DataType),
		})
	}
	return columns, nil
}

// DryRun validates the query and returns the bytes it would process. Dry-run
// jobs are free and never execute.
func (c *Client) DryRun(ctx context.Context, query string) (int64, error) {
	q := c.BQ.Query(query)
	q.DryRun = true
	q.Labels = c.Labels

	job, err := q.Run(ctx)
	if err != nil {
		return 0, describeError(err)
	}
	status := job.LastStatus()
	if status == nil {
		return 0, fmt.Errorf("dry run returned no job status")
	}
	if err := status.Err(); err != nil {
		return 0, describeError(err)
	}
	if status.Statistics == nil {
		return 0, fmt.Errorf("dry run returned no statistics")
	}
	return status.Statistics.TotalBytesProcessed, nil
}

// Run executes the query with the billing cap from opts and reads every row
func (c *Client) Run(ctx context.Context, query string, opts models.RunOptions) (*models.Table, error) {
	q := c.BQ.Query(query)
	q.Priority = bq.InteractivePriority
	q.Labels = mergeLabels(c.Labels, opts.Labels)
	if opts.MaxBytesBilled > 0 {
		q.MaxBytesBilled = opts.MaxBytesBilled
	}
	if opts.JobID != "" {
		q.JobID = opts.JobID
		q.AddJobIDSuffix = true
	}

	job, err := q.Run(ctx)
	if err != nil {
		return nil, describeError(err)
	}
	c.Logger.Debugf("Started BigQuery job %s", job.ID())

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, describeError(err)
	}
	if err := status.Err(); err != nil {
		return nil, describeError(err)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, describeError(err)
	}

	table := &models.Table{}
	for {
		var values []bq.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, describeError(err)
		}
		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = v
		}
		table.Rows = append(table.Rows, row)
	}
	for _, f := range it.Schema {
		table.Columns = append(table.Columns, f.Name)
	}
	return table, nil
}

func mergeLabels(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// QueryError is a BigQuery failure with a readable message. The API error
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

// describeError maps API and job errors to a QueryError. Context errors pass
// through.
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

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		var details []string
		for _, item := range apiErr.Errors {
			if item.Message != "" && item.Message != msg {
				details = append(details, item.Message)
			}
		}
		if len(details) > 0 {
			msg += " | details: " + strings.Join(details, " | ")
		}
		var prefix string
		switch apiErr.Code {
		case 400:
			prefix = "invalid query"
		case 403:
			prefix = "access denied or quota exceeded"
		case 404:
			prefix = "table or dataset not found"
		default:
			prefix = fmt.Sprintf("BigQuery API error (%d)", apiErr.Code)
		}
		if msg != "" {
			prefix += ": " + msg
		}
		return &QueryError{Message: prefix, Err: err}
	}

	var jobErr *bq.Error
	if errors.As(err, &jobErr) {
		msg := fmt.Sprintf("query error (%s)", jobErr.Reason)
		if jobErr.Location != "" {
			msg += " at " + jobErr.Location
		}
		if jobErr.Message != "" {
			msg += ": " + jobErr.Message
		}
		return &QueryError{Message: msg, Err: err}
	}

	return &QueryError{Message: "BigQuery request failed", Err: err}
}
