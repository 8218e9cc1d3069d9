package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

// MockMetadataSource is a call-counting metadata source
type MockMetadataSource struct {
	Columns []models.ColumnType
	Err     error
	Delay   time.Duration
	calls   int32
}

func (m *MockMetadataSource) DescribeColumns(ctx context.Context, dataset, table string) ([]models.ColumnType, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]models.ColumnType, len(m.Columns))
	copy(out, m.Columns)
	return out, nil
}

func (m *MockMetadataSource) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func chamadoColumns() []models.ColumnType {
	return []models.ColumnType{
		{Name: "id_chamado", RawType: "STRING"},
		{Name: "data_inicio", RawType: "TIMESTAMP"},
		{Name: "data_particao", RawType: "DATE"},
		{Name: "id_bairro", RawType: "STRING"},
		{Name: "subtipo", RawType: "STRING"},
	}
}

func TestNewSchemaCatalog(t *testing.T) {
	source := &MockMetadataSource{}
	logger := createTestLogger()

	catalog := NewSchemaCatalog(source, logger)
	if catalog == nil {
		t.Fatal("Expected catalog to be created, got nil")
	}
	if catalog.Source != source {
		t.Error("Expected catalog.Source to be the mock source")
	}
	if catalog.Logger != logger {
		t.Error("Expected catalog.Logger to be the test logger")
	}
	if len(catalog.CachedKeys()) != 0 {
		t.Error("Expected an empty cache")
	}
}

func TestGetSchemaParsesTypes(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns()}
	catalog := NewSchemaCatalog(source, createTestLogger())

	s, err := catalog.GetSchema(context.Background(), "`datario.adm_central_atendimento_1746`", "chamado")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s.Len() != 5 {
		t.Errorf("Expected 5 columns, got %d", s.Len())
	}
	if s.Dataset != "datario.adm_central_atendimento_1746" {
		t.Errorf("Expected backticks to be stripped, got '%s'", s.Dataset)
	}
	if typ, _ := s.TypeOf("data_particao"); typ != models.TypeDate {
		t.Errorf("Expected data_particao to be DATE, got %s", typ)
	}
	if typ, _ := s.TypeOf("data_inicio"); typ != models.TypeTimestamp {
		t.Errorf("Expected data_inicio to be TIMESTAMP, got %s", typ)
	}
	if !s.IsString("subtipo") {
		t.Error("Expected subtipo to be STRING")
	}
}

func TestGetSchemaIsCached(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns()}
	catalog := NewSchemaCatalog(source, createTestLogger())

	for i := 0; i < 3; i++ {
		if _, err := catalog.GetSchema(context.Background(), "ds", "chamado"); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if source.Calls() != 1 {
		t.Errorf("Expected 1 metadata call, got %d", source.Calls())
	}

	catalog.Invalidate("ds", "chamado")
	if _, err := catalog.GetSchema(context.Background(), "ds", "chamado"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if source.Calls() != 2 {
		t.Errorf("Expected a refetch after Invalidate, got %d calls", source.Calls())
	}
}

func TestGetSchemaSingleFlight(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns(), Delay: 50 * time.Millisecond}
	catalog := NewSchemaCatalog(source, createTestLogger())

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := catalog.GetSchema(context.Background(), "ds", "chamado"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Expected no error, got %v", err)
	}
	if source.Calls() != 1 {
		t.Errorf("Expected exactly 1 metadata fetch for concurrent callers, got %d", source.Calls())
	}
}

func TestGetSchemaInvalidIdentifier(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns()}
	catalog := NewSchemaCatalog(source, createTestLogger())

	cases := [][2]string{
		{"ds`; DROP TABLE x", "chamado"},
		{"ds", "chamado' OR '1'='1"},
		{"", "chamado"},
		{"ds", "cham ado"},
	}
	for _, c := range cases {
		_, err := catalog.GetSchema(context.Background(), c[0], c[1])
		var invalid *InvalidIdentifierError
		if !errors.As(err, &invalid) {
			t.Errorf("Expected InvalidIdentifierError for %v, got %v", c, err)
		}
	}
	if source.Calls() != 0 {
		t.Errorf("Expected no metadata calls for invalid identifiers, got %d", source.Calls())
	}
}

func TestGetSchemaFetchError(t *testing.T) {
	cause := errors.New("permission denied")
	source := &MockMetadataSource{Err: cause}
	catalog := NewSchemaCatalog(source, createTestLogger())

	_, err := catalog.GetSchema(context.Background(), "ds", "chamado")
	var fetchErr *SchemaFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected SchemaFetchError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("Expected the original cause to be preserved")
	}

	// Failures are not cached
	source.Err = nil
	source.Columns = chamadoColumns()
	if _, err := catalog.GetSchema(context.Background(), "ds", "chamado"); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
}

func TestGetSchemaZeroColumns(t *testing.T) {
	source := &MockMetadataSource{Columns: nil}
	catalog := NewSchemaCatalog(source, createTestLogger())

	_, err := catalog.GetSchema(context.Background(), "ds", "missing")
	var fetchErr *SchemaFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected SchemaFetchError for an empty table, got %v", err)
	}
	if fetchErr.Table != "missing" {
		t.Errorf("Expected table 'missing', got '%s'", fetchErr.Table)
	}
}

func TestResetClearsEveryEntry(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns()}
	catalog := NewSchemaCatalog(source, createTestLogger())

	catalog.GetSchema(context.Background(), "ds", "a")
	catalog.GetSchema(context.Background(), "ds", "b")
	if keys := catalog.CachedKeys(); len(keys) != 2 || keys[0] != "ds.a" || keys[1] != "ds.b" {
		t.Errorf("Expected [ds.a ds.b], got %v", keys)
	}

	catalog.Reset()
	if len(catalog.CachedKeys()) != 0 {
		t.Error("Expected an empty cache after Reset")
	}
}

func TestGetSchemaWaiterSurvivesLeaderCancel(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns(), Delay: 150 * time.Millisecond}
	catalog := NewSchemaCatalog(source, createTestLogger())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := catalog.GetSchema(leaderCtx, "ds", "chamado")
		leaderErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := catalog.GetSchema(context.Background(), "ds", "chamado")
		waiterErr <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the cancelled caller to get context.Canceled, got %v", err)
	}
	if err := <-waiterErr; err != nil {
		t.Errorf("Expected the live caller to get the schema, got %v", err)
	}
	if source.Calls() != 1 {
		t.Errorf("Expected exactly 1 metadata fetch, got %d", source.Calls())
	}
	if keys := catalog.CachedKeys(); len(keys) != 1 {
		t.Errorf("Expected the shared fetch to be cached, got %v", keys)
	}
}

func TestGetSchemaWaiterHonorsOwnDeadline(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns(), Delay: 300 * time.Millisecond}
	catalog := NewSchemaCatalog(source, createTestLogger())

	go catalog.GetSchema(context.Background(), "ds", "chamado")
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := catalog.GetSchema(ctx, "ds", "chamado")
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	var fetchErr *SchemaFetchError
	if !errors.As(err, &fetchErr) {
		t.Errorf("Expected SchemaFetchError, got %v", err)
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("Expected the caller to return near its deadline, took %s", elapsed)
	}
}

func TestGetSchemaExpiredContext(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns()}
	catalog := NewSchemaCatalog(source, createTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := catalog.GetSchema(ctx, "ds", "chamado"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if source.Calls() != 0 {
		t.Errorf("Expected no metadata calls, got %d", source.Calls())
	}
}

func TestGetSchemaFetchTimeout(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns(), Delay: 300 * time.Millisecond}
	catalog := NewSchemaCatalog(source, createTestLogger())
	catalog.FetchTimeout = 20 * time.Millisecond

	_, err := catalog.GetSchema(context.Background(), "ds", "chamado")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the fetch to time out, got %v", err)
	}
}

func TestGetSchemaDottedNamesDoNotCollide(t *testing.T) {
	source := &MockMetadataSource{Columns: chamadoColumns()}
	catalog := NewSchemaCatalog(source, createTestLogger())

	first, err := catalog.GetSchema(context.Background(), "a.b", "c")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := catalog.GetSchema(context.Background(), "a", "b.c")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if source.Calls() != 2 {
		t.Errorf("Expected 2 metadata fetches for distinct tables, got %d", source.Calls())
	}
	if first.Dataset != "a.b" || first.Table != "c" {
		t.Errorf("Expected a.b/c, got %s/%s", first.Dataset, first.Table)
	}
	if second.Dataset != "a" || second.Table != "b.c" {
		t.Errorf("Expected a/b.c, got %s/%s", second.Dataset, second.Table)
	}
	if keys := catalog.CachedKeys(); len(keys) != 2 {
		t.Errorf("Expected 2 cached entries, got %v", keys)
	}
}
