// Package gateway runs a candidate query through the safety guard, a dry-run
// cost estimate and the byte ceiling before executing it for real.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/v1nybarreto/genai-agent/internal/guard"
	"github.com/v1nybarreto/genai-agent/pkg/models"
	"github.com/zeebo/xxh3"
)

// DryRunner estimates the bytes a query would scan without billing or side effects
type DryRunner interface {
	DryRun(ctx context.Context, query string) (int64, error)
}

// Runner executes a read-only query and honors the byte ceiling in opts
type Runner interface {
	Run(ctx context.Context, query string, opts models.RunOptions) (*models.Table, error)
}

// Observer receives the outcome of every pipeline pass
type Observer interface {
	ObserveOutcome(stage models.Stage, estimatedBytes int64, elapsed time.Duration)
}

// CostEstimator wraps a dry runner. Estimates are never cached.
type CostEstimator struct {
	Backend DryRunner
}

// Estimate returns the scanned-byte estimate for exactly this query text
func (ce *CostEstimator) Estimate(ctx context.Context, query string) (models.CostEstimate, error) {
	bytes, err := ce.Backend.DryRun(ctx, query)
	if err != nil {
		return models.CostEstimate{}, &EstimationError{Cause: err}
	}
	if bytes < 0 {
		return models.CostEstimate{}, &EstimationError{Cause: fmt.Errorf("negative byte estimate %d", bytes)}
	}
	return models.CostEstimate{BytesScanned: bytes, QueryText: query}, nil
}

// Gateway orchestrates guard, estimate, budget check and execution for one query
type Gateway struct {
	Estimator *CostEstimator
	Runner    Runner
	// ByteCeiling caps estimated and billed bytes; 0 or less means uncapped
	ByteCeiling int64
	// CallTimeout bounds each network stage; 0 means no extra deadline
	CallTimeout time.Duration
	Labels      map[string]string
	Observer    Observer
	Logger      *logrus.Logger
}

// NewGateway creates a new execution gateway
func NewGateway(dryRunner DryRunner, runner Runner, byteCeiling int64, callTimeout time.Duration, logger *logrus.Logger) *Gateway {
	return &Gateway{
		Estimator:   &CostEstimator{Backend: dryRunner},
		Runner:      runner,
		ByteCeiling: byteCeiling,
		CallTimeout: callTimeout,
		Labels:      map[string]string{},
		Logger:      logger,
	}
}

// Fingerprint returns a short stable hash of query text for log correlation
func Fingerprint(query string) string {
	return strconv.FormatUint(xxh3.HashString(query), 16)
}

// Execute runs one query through the pipeline. Every stage failure ends the
// pass; the runner is only reached once the guard, the estimate and the
// ceiling all agree. Nothing is retried here.
func (gw *Gateway) Execute(ctx context.Context, query string, jobID string) models.ExecutionResult {
	started := time.Now()
	log := gw.Logger.WithFields(logrus.Fields{
		"query_fp": Fingerprint(query),
		"job_id":   jobID,
	})

	res := gw.execute(ctx, query, jobID, log)

	var estimated int64
	if res.Estimate != nil {
		estimated = res.Estimate.BytesScanned
	}
	if gw.Observer != nil {
		gw.Observer.ObserveOutcome(res.Stage, estimated, time.Since(started))
	}
	log.WithFields(logrus.Fields{
		"stage":      res.Stage.String(),
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("Gateway pass finished")
	return res
}

func (gw *Gateway) execute(ctx context.Context, query, jobID string, log *logrus.Entry) models.ExecutionResult {
	verdict := guard.Check(query)
	if !verdict.Allowed {
		log.Warningf("Query rejected by guard: %s", verdict.Reason)
		return models.Failed(models.StageRejected, &SafetyRejection{Reason: verdict.Reason}, nil)
	}

	estimate, err := gw.estimate(ctx, query)
	if err != nil {
		log.Warningf("Dry run failed: %v", err)
		return models.Failed(models.StageEstimationFailed, err, nil)
	}
	log.Infof("Dry run estimate: %s (%d bytes)", humanize.Bytes(uint64(estimate.BytesScanned)), estimate.BytesScanned)

	if gw.ByteCeiling > 0 && estimate.BytesScanned > gw.ByteCeiling {
		err := &BudgetExceeded{EstimatedBytes: estimate.BytesScanned, CeilingBytes: gw.ByteCeiling}
		log.Warning(err.Error())
		return models.Failed(models.StageOverBudget, err, &estimate)
	}

	rows, err := gw.run(ctx, query, jobID)
	if err != nil {
		log.Errorf("Execution failed: %v", err)
		return models.Failed(models.StageExecutionFailed, err, &estimate)
	}
	log.Infof("Execution returned %d rows", rows.Len())
	return models.Succeeded(rows, &estimate)
}

func (gw *Gateway) estimate(ctx context.Context, query string) (models.CostEstimate, error) {
	if err := ctx.Err(); err != nil {
		return models.CostEstimate{}, &EstimationError{Cause: err}
	}
	callCtx, cancel := gw.callContext(ctx)
	defer cancel()

	estimate, err := gw.Estimator.Estimate(callCtx, query)
	if err != nil {
		return models.CostEstimate{}, preferContextError(callCtx, err, func(cause error) error {
			return &EstimationError{Cause: cause}
		})
	}
	// A result that arrives after cancellation is ignored
	if err := callCtx.Err(); err != nil {
		return models.CostEstimate{}, &EstimationError{Cause: err}
	}
	return estimate, nil
}

func (gw *Gateway) run(ctx context.Context, query, jobID string) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExecutionError{Cause: err}
	}
	callCtx, cancel := gw.callContext(ctx)
	defer cancel()

	opts := models.RunOptions{
		MaxBytesBilled: gw.ByteCeiling,
		Labels:         gw.Labels,
		JobID:          jobID,
	}
	if opts.MaxBytesBilled < 0 {
		opts.MaxBytesBilled = 0
	}

	rows, err := gw.Runner.Run(callCtx, query, opts)
	if err != nil {
		return nil, preferContextError(callCtx, err, func(cause error) error {
			return &ExecutionError{Cause: cause}
		})
	}
	if err := callCtx.Err(); err != nil {
		return nil, &ExecutionError{Cause: err}
	}
	return rows, nil
}

func (gw *Gateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if gw.CallTimeout > 0 {
		return context.WithTimeout(ctx, gw.CallTimeout)
	}
	return context.WithCancel(ctx)
}

// preferContextError reports a cancelled or expired stage as such even when
// the backend surfaced it as a transport error
func preferContextError(ctx context.Context, err error, wrap func(error) error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !IsCancellation(err) {
		return wrap(fmt.Errorf("%w (%v)", ctxErr, unwrapStage(err)))
	}
	if _, ok := err.(*EstimationError); ok {
		return err
	}
	if _, ok := err.(*ExecutionError); ok {
		return err
	}
	return wrap(err)
}

func unwrapStage(err error) error {
	switch e := err.(type) {
	case *EstimationError:
		return e.Cause
	case *ExecutionError:
		return e.Cause
	}
	return err
}
