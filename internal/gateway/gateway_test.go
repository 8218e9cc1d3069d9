package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

const okQuery = "SELECT COUNT(1) AS n FROM `datario.adm_central_atendimento_1746.chamado` AS c WHERE c.data_particao = DATE '2024-11-28'"

// MockWarehouse counts dry runs and real runs
type MockWarehouse struct {
	mu sync.Mutex

	Bytes    int64
	DryErr   error
	RunErr   error
	Table    *models.Table
	RunDelay time.Duration

	DryRuns  []string
	Runs     []string
	LastOpts models.RunOptions
}

func (m *MockWarehouse) DryRun(ctx context.Context, query string) (int64, error) {
	m.mu.Lock()
	m.DryRuns = append(m.DryRuns, query)
	m.mu.Unlock()
	if m.DryErr != nil {
		return 0, m.DryErr
	}
	return m.Bytes, nil
}

func (m *MockWarehouse) Run(ctx context.Context, query string, opts models.RunOptions) (*models.Table, error) {
	m.mu.Lock()
	m.Runs = append(m.Runs, query)
	m.LastOpts = opts
	m.mu.Unlock()
	if m.RunDelay > 0 {
		select {
		case <-time.After(m.RunDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.RunErr != nil {
		return nil, m.RunErr
	}
	if m.Table != nil {
		return m.Table, nil
	}
	return &models.Table{Columns: []string{"n"}, Rows: [][]interface{}{{int64(42)}}}, nil
}

// MockObserver records outcomes
type MockObserver struct {
	Stages []models.Stage
	Bytes  []int64
}

func (o *MockObserver) ObserveOutcome(stage models.Stage, estimatedBytes int64, elapsed time.Duration) {
	o.Stages = append(o.Stages, stage)
	o.Bytes = append(o.Bytes, estimatedBytes)
}

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func newTestGateway(wh *MockWarehouse, ceiling int64) *Gateway {
	return NewGateway(wh, wh, ceiling, time.Second, createTestLogger())
}

func assertResultInvariant(t *testing.T, res models.ExecutionResult) {
	t.Helper()
	if res.OK && (res.Rows == nil || res.Error != "") {
		t.Errorf("Expected a success to carry rows and no error, got %+v", res)
	}
	if !res.OK && (res.Rows != nil || res.Error == "") {
		t.Errorf("Expected a failure to carry an error and no rows, got %+v", res)
	}
}

func TestExecuteSuccess(t *testing.T) {
	wh := &MockWarehouse{Bytes: 1024}
	gw := newTestGateway(wh, 2_000_000_000)
	gw.Labels = map[string]string{"app": "genai-rio-agent"}

	res := gw.Execute(context.Background(), okQuery, "job-1")
	assertResultInvariant(t, res)

	if !res.OK || res.Stage != models.StageExecuted {
		t.Fatalf("Expected EXECUTED, got %s (%s)", res.Stage, res.Error)
	}
	if res.Rows.Len() != 1 {
		t.Errorf("Expected 1 row, got %d", res.Rows.Len())
	}
	if res.Estimate == nil || res.Estimate.BytesScanned != 1024 {
		t.Errorf("Expected the estimate to be attached, got %+v", res.Estimate)
	}
	if !res.Estimate.ValidFor(okQuery) {
		t.Error("Expected the estimate to belong to the executed text")
	}
	if wh.LastOpts.MaxBytesBilled != 2_000_000_000 {
		t.Errorf("Expected the ceiling to be re-asserted at execution, got %d", wh.LastOpts.MaxBytesBilled)
	}
	if wh.LastOpts.JobID != "job-1" || wh.LastOpts.Labels["app"] != "genai-rio-agent" {
		t.Errorf("Expected job id and labels to be forwarded, got %+v", wh.LastOpts)
	}
	if len(wh.DryRuns) != 1 || wh.DryRuns[0] != okQuery {
		t.Errorf("Expected one dry run of the exact text, got %v", wh.DryRuns)
	}
}

func TestExecuteRejectedMakesNoCalls(t *testing.T) {
	wh := &MockWarehouse{}
	gw := newTestGateway(wh, 0)

	for _, q := range []string{"", "DELETE FROM t WHERE true", "SELECT 1; SELECT 2", "SELECT * FROM t"} {
		res := gw.Execute(context.Background(), q, "")
		assertResultInvariant(t, res)
		if res.Stage != models.StageRejected {
			t.Errorf("Expected REJECTED for '%s', got %s", q, res.Stage)
		}
		var rejection *SafetyRejection
		if !errors.As(res.Cause, &rejection) {
			t.Errorf("Expected a SafetyRejection cause, got %v", res.Cause)
		}
	}
	if len(wh.DryRuns) != 0 || len(wh.Runs) != 0 {
		t.Errorf("Expected no warehouse calls, got %d dry runs and %d runs", len(wh.DryRuns), len(wh.Runs))
	}

	res := gw.Execute(context.Background(), "DELETE FROM t WHERE true", "")
	if !strings.Contains(res.Error, "only read-only statements are permitted") {
		t.Errorf("Expected the guard reason verbatim, got '%s'", res.Error)
	}
}

func TestExecuteEstimationFailed(t *testing.T) {
	cause := errors.New("Unrecognized name: foo at [1:8]")
	wh := &MockWarehouse{DryErr: cause}
	gw := newTestGateway(wh, 0)

	res := gw.Execute(context.Background(), "SELECT foo FROM t", "")
	assertResultInvariant(t, res)
	if res.Stage != models.StageEstimationFailed {
		t.Fatalf("Expected ESTIMATION_FAILED, got %s", res.Stage)
	}
	var estErr *EstimationError
	if !errors.As(res.Cause, &estErr) {
		t.Fatalf("Expected an EstimationError, got %v", res.Cause)
	}
	if !errors.Is(res.Cause, cause) {
		t.Error("Expected the underlying cause to be preserved")
	}
	if !strings.Contains(res.Error, "Unrecognized name") {
		t.Errorf("Expected the cause in the message, got '%s'", res.Error)
	}
	if len(wh.Runs) != 0 {
		t.Errorf("Expected no execution, got %d", len(wh.Runs))
	}
}

func TestExecuteOverBudgetNeverRuns(t *testing.T) {
	const ceiling = int64(1_000_000)
	wh := &MockWarehouse{Bytes: ceiling + 1}
	gw := newTestGateway(wh, ceiling)

	res := gw.Execute(context.Background(), okQuery, "")
	assertResultInvariant(t, res)
	if res.Stage != models.StageOverBudget {
		t.Fatalf("Expected OVER_BUDGET, got %s", res.Stage)
	}
	if len(wh.Runs) != 0 {
		t.Errorf("Expected zero execution calls, got %d", len(wh.Runs))
	}
	var budget *BudgetExceeded
	if !errors.As(res.Cause, &budget) {
		t.Fatalf("Expected BudgetExceeded, got %v", res.Cause)
	}
	if budget.EstimatedBytes != ceiling+1 {
		t.Errorf("Expected estimated bytes %d, got %d", ceiling+1, budget.EstimatedBytes)
	}
	if !strings.Contains(res.Error, "1000001 bytes") {
		t.Errorf("Expected the estimated size in the message, got '%s'", res.Error)
	}
	if !strings.Contains(res.Error, "narrow") {
		t.Errorf("Expected actionable guidance in the message, got '%s'", res.Error)
	}
}

func TestExecuteAtCeilingRuns(t *testing.T) {
	const ceiling = int64(1_000_000)
	wh := &MockWarehouse{Bytes: ceiling}
	gw := newTestGateway(wh, ceiling)

	if res := gw.Execute(context.Background(), okQuery, ""); res.Stage != models.StageExecuted {
		t.Errorf("Expected an estimate equal to the ceiling to run, got %s", res.Stage)
	}
}

func TestExecuteUncapped(t *testing.T) {
	wh := &MockWarehouse{Bytes: 1 << 50}
	gw := newTestGateway(wh, 0)

	res := gw.Execute(context.Background(), okQuery, "")
	if res.Stage != models.StageExecuted {
		t.Fatalf("Expected EXECUTED without a ceiling, got %s", res.Stage)
	}
	if wh.LastOpts.MaxBytesBilled != 0 {
		t.Errorf("Expected no billing cap, got %d", wh.LastOpts.MaxBytesBilled)
	}
}

func TestExecuteZeroEstimateIsValid(t *testing.T) {
	wh := &MockWarehouse{Bytes: 0}
	gw := newTestGateway(wh, 10)

	res := gw.Execute(context.Background(), okQuery, "")
	if res.Stage != models.StageExecuted {
		t.Fatalf("Expected EXECUTED for a zero-byte estimate, got %s (%s)", res.Stage, res.Error)
	}
	if res.Estimate.BytesScanned != 0 {
		t.Errorf("Expected 0 bytes, got %d", res.Estimate.BytesScanned)
	}
}

func TestExecuteExecutionFailed(t *testing.T) {
	cause := errors.New("Quota exceeded: too many concurrent queries")
	wh := &MockWarehouse{RunErr: cause}
	gw := newTestGateway(wh, 0)

	res := gw.Execute(context.Background(), okQuery, "")
	assertResultInvariant(t, res)
	if res.Stage != models.StageExecutionFailed {
		t.Fatalf("Expected EXECUTION_FAILED, got %s", res.Stage)
	}
	var execErr *ExecutionError
	if !errors.As(res.Cause, &execErr) || !errors.Is(res.Cause, cause) {
		t.Errorf("Expected an ExecutionError wrapping the cause, got %v", res.Cause)
	}
	if res.Estimate == nil {
		t.Error("Expected the estimate to be kept on execution failure")
	}
	if len(wh.Runs) != 1 {
		t.Errorf("Expected exactly one attempt, got %d", len(wh.Runs))
	}
}

func TestExecuteTimeout(t *testing.T) {
	wh := &MockWarehouse{RunDelay: time.Second}
	gw := NewGateway(wh, wh, 0, 20*time.Millisecond, createTestLogger())

	res := gw.Execute(context.Background(), okQuery, "")
	assertResultInvariant(t, res)
	if res.Stage != models.StageExecutionFailed {
		t.Fatalf("Expected EXECUTION_FAILED, got %s", res.Stage)
	}
	if !IsCancellation(res.Cause) {
		t.Errorf("Expected a deadline cause, got %v", res.Cause)
	}
	if !strings.Contains(res.Error, "did not answer in time") {
		t.Errorf("Expected a humanized timeout, got '%s'", res.Error)
	}
}

func TestExecuteCancelled(t *testing.T) {
	wh := &MockWarehouse{}
	gw := newTestGateway(wh, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := gw.Execute(ctx, okQuery, "")
	assertResultInvariant(t, res)
	if res.Stage != models.StageEstimationFailed {
		t.Fatalf("Expected the estimate stage to fail, got %s", res.Stage)
	}
	if !strings.Contains(res.Error, "cancelled") {
		t.Errorf("Expected a cancellation message, got '%s'", res.Error)
	}
	if len(wh.DryRuns) != 0 || len(wh.Runs) != 0 {
		t.Error("Expected no warehouse calls after cancellation")
	}
}

func TestExecuteNotifiesObserver(t *testing.T) {
	wh := &MockWarehouse{Bytes: 500}
	obs := &MockObserver{}
	gw := newTestGateway(wh, 100)
	gw.Observer = obs

	gw.Execute(context.Background(), okQuery, "")
	gw.Execute(context.Background(), "DROP TABLE t", "")

	if len(obs.Stages) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(obs.Stages))
	}
	if obs.Stages[0] != models.StageOverBudget || obs.Bytes[0] != 500 {
		t.Errorf("Expected OVER_BUDGET with 500 bytes, got %s/%d", obs.Stages[0], obs.Bytes[0])
	}
	if obs.Stages[1] != models.StageRejected {
		t.Errorf("Expected REJECTED, got %s", obs.Stages[1])
	}
}

func TestCostEstimatorNeverCaches(t *testing.T) {
	wh := &MockWarehouse{Bytes: 10}
	ce := &CostEstimator{Backend: wh}

	a, _ := ce.Estimate(context.Background(), "SELECT 1 AS a")
	b, _ := ce.Estimate(context.Background(), "SELECT 1 AS a")
	if len(wh.DryRuns) != 2 {
		t.Errorf("Expected every estimate to hit the backend, got %d calls", len(wh.DryRuns))
	}
	if !a.ValidFor("SELECT 1 AS a") || a.ValidFor("SELECT 2 AS a") || b.QueryText != "SELECT 1 AS a" {
		t.Error("Expected estimates to be bound to their exact text")
	}
}

func TestFingerprintStable(t *testing.T) {
	if Fingerprint(okQuery) != Fingerprint(okQuery) {
		t.Error("Expected a stable fingerprint")
	}
	if Fingerprint(okQuery) == Fingerprint(okQuery+" ") {
		t.Error("Expected different text to hash differently")
	}
}
