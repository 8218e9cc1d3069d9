package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// SafetyRejection is a policy violation found before any network call
type SafetyRejection struct {
	Reason string
}

func (e *SafetyRejection) Error() string {
	return "query rejected: " + e.Reason
}

// EstimationError is a failed dry run
type EstimationError struct {
	Cause error
}

func (e *EstimationError) Error() string {
	return "query validation failed: " + describeCause(e.Cause)
}

func (e *EstimationError) Unwrap() error {
	return e.Cause
}

// BudgetExceeded means the estimated scan is above the configured ceiling
type BudgetExceeded struct {
	EstimatedBytes int64
	CeilingBytes   int64
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf(
		"estimated scan of %s (%d bytes) exceeds the %s ceiling; narrow the date range or add filters and try again",
		humanize.Bytes(uint64(e.EstimatedBytes)), e.EstimatedBytes, humanize.Bytes(uint64(e.CeilingBytes)),
	)
}

// ExecutionError is a failed real run
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return "query execution failed: " + describeCause(e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// IsCancellation reports whether err stems from a cancelled or expired context
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// describeCause turns a transport error into a message fit for end users.
// Backends already wrap their errors with readable text; context errors are
// the ones that would otherwise leak as raw strings.
func describeCause(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, context.DeadlineExceeded):
		return "the warehouse did not answer in time"
	case errors.Is(err, context.Canceled):
		return "the request was cancelled"
	default:
		return err.Error()
	}
}
