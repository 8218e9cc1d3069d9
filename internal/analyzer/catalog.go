package analyzer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/sqltext"
	"github.com/v1nybarreto/genai-agent/pkg/models"
	"golang.org/x/sync/singleflight"
)

// MetadataSource describes the columns of a table through the warehouse catalog.
// Implementations receive identifiers that already passed validation.
type MetadataSource interface {
	DescribeColumns(ctx context.Context, dataset, table string) ([]models.ColumnType, error)
}

// InvalidIdentifierError is returned for dataset or table names outside the allow-list
type InvalidIdentifierError struct {
	Kind  string
	Value string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s identifier %q: only letters, digits, '_', '.' and '$' are allowed", e.Kind, e.Value)
}

// SchemaFetchError is returned when metadata cannot be loaded or the table has no columns
type SchemaFetchError struct {
	Dataset string
	Table   string
	Err     error
}

func (e *SchemaFetchError) Error() string {
	return fmt.Sprintf("failed to fetch schema of %s.%s: %v", e.Dataset, e.Table, e.Err)
}

func (e *SchemaFetchError) Unwrap() error {
	return e.Err
}

// DefaultFetchTimeout bounds a shared metadata fetch once it no longer follows
// the context of the caller that started it
const DefaultFetchTimeout = 60 * time.Second

// tableKey identifies one cached schema. Dataset names may contain dots, so
// the pair is kept as a struct instead of a joined string.
type tableKey struct {
	dataset string
	table   string
}

// flightKey joins the pair with a byte the identifier allow-list rejects
func (k tableKey) flightKey() string {
	return k.dataset + "|" + k.table
}

func (k tableKey) String() string {
	return k.dataset + "." + k.table
}

// SchemaCatalog discovers and caches column types per (dataset, table).
// Entries live for the lifetime of the catalog; concurrent callers for the
// same key share a single metadata fetch. Each caller waits on its own
// context, while the shared fetch runs detached, bounded by FetchTimeout.
type SchemaCatalog struct {
	Source       MetadataSource
	Logger       *logrus.Logger
	FetchTimeout time.Duration

	mu      sync.RWMutex
	schemas map[tableKey]models.Schema
	group   singleflight.Group
}

// NewSchemaCatalog creates a new schema catalog
func NewSchemaCatalog(source MetadataSource, logger *logrus.Logger) *SchemaCatalog {
	return &SchemaCatalog{
		Source:       source,
		Logger:       logger,
		FetchTimeout: DefaultFetchTimeout,
		schemas:      make(map[tableKey]models.Schema),
	}
}

// GetSchema returns the schema of dataset.table, fetching it on first use
func (sc *SchemaCatalog) GetSchema(ctx context.Context, dataset, table string) (models.Schema, error) {
	ds, err := validateIdentifier(dataset, "dataset")
	if err != nil {
		return models.Schema{}, err
	}
	tb, err := validateIdentifier(table, "table")
	if err != nil {
		return models.Schema{}, err
	}

	key := tableKey{dataset: ds, table: tb}
	if s, ok := sc.cached(key); ok {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return models.Schema{}, &SchemaFetchError{Dataset: ds, Table: tb, Err: err}
	}

	ch := sc.group.DoChan(key.flightKey(), func() (interface{}, error) {
		// A caller that lost the race may arrive after the winner stored the entry
		if s, ok := sc.cached(key); ok {
			return s, nil
		}
		fetchCtx, cancel := sc.fetchContext(ctx)
		defer cancel()
		s, err := sc.fetch(fetchCtx, ds, tb)
		if err != nil {
			return nil, err
		}
		sc.mu.Lock()
		sc.schemas[key] = s
		sc.mu.Unlock()
		return s, nil
	})

	select {
	case <-ctx.Done():
		sc.Logger.Warningf("Stopped waiting for schema of %s: %v", key, ctx.Err())
		return models.Schema{}, &SchemaFetchError{Dataset: ds, Table: tb, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return models.Schema{}, res.Err
		}
		if res.Shared {
			sc.Logger.Debugf("Reused in-flight schema fetch for %s", key)
		}
		return res.Val.(models.Schema), nil
	}
}

// fetchContext keeps the values of ctx but not its cancellation, so one
// caller giving up does not fail the others sharing the fetch
func (sc *SchemaCatalog) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if sc.FetchTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, sc.FetchTimeout)
}

// Invalidate drops the cached schema of dataset.table
func (sc *SchemaCatalog) Invalidate(dataset, table string) {
	key := tableKey{dataset: sqltext.StripBackticks(dataset), table: sqltext.StripBackticks(table)}
	sc.mu.Lock()
	delete(sc.schemas, key)
	sc.mu.Unlock()
	sc.group.Forget(key.flightKey())
}

// Reset drops every cached schema
func (sc *SchemaCatalog) Reset() {
	sc.mu.Lock()
	keys := make([]tableKey, 0, len(sc.schemas))
	for k := range sc.schemas {
		keys = append(keys, k)
	}
	sc.schemas = make(map[tableKey]models.Schema)
	sc.mu.Unlock()
	for _, k := range keys {
		sc.group.Forget(k.flightKey())
	}
}

// CachedKeys returns the cached dataset.table keys in sorted order
func (sc *SchemaCatalog) CachedKeys() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	keys := make([]string, 0, len(sc.schemas))
	for k := range sc.schemas {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}

func (sc *SchemaCatalog) cached(key tableKey) (models.Schema, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	s, ok := sc.schemas[key]
	return s, ok
}

// fetch loads and normalizes the column list of one table
func (sc *SchemaCatalog) fetch(ctx context.Context, dataset, table string) (models.Schema, error) {
	sc.Logger.Infof("Fetching schema of %s.%s", dataset, table)

	columns, err := sc.Source.DescribeColumns(ctx, dataset, table)
	if err != nil {
		sc.Logger.Errorf("Error describing columns of %s.%s: %v", dataset, table, err)
		return models.Schema{}, &SchemaFetchError{Dataset: dataset, Table: table, Err: err}
	}
	if len(columns) == 0 {
		sc.Logger.Warningf("No columns found for %s.%s", dataset, table)
		return models.Schema{}, &SchemaFetchError{
			Dataset: dataset,
			Table:   table,
			Err:     fmt.Errorf("no columns found; check that the table exists"),
		}
	}

	for i := range columns {
		if columns[i].Type == models.TypeOther {
			columns[i].Type = models.ParseDataType(columns[i].RawType)
		}
	}

	s := models.NewSchema(dataset, table, columns)
	sc.Logger.Infof("Discovered %d columns for %s.%s", s.Len(), dataset, table)
	return s, nil
}

func validateIdentifier(name, kind string) (string, error) {
	n, err := sqltext.CleanIdentifier(name)
	if err != nil {
		return "", &InvalidIdentifierError{Kind: kind, Value: name}
	}
	return n, nil
}
