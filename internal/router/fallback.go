package router

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNoFallback indicates the fallback matrix has no alternate for the
// failed role. The step stays failed and the workflow surfaces it.
var ErrNoFallback = errors.New("no fallback role available")

// FallbackRouter redirects a step to an alternate role after the primary
// role's retry budget is exhausted or the worker is unavailable.
type FallbackRouter struct {
	tables *Tables
	logger *zap.Logger
}

// NewFallbackRouter creates a fallback router over the given tables.
func NewFallbackRouter(tables *Tables, logger *zap.Logger) (*FallbackRouter, error) {
	if tables == nil {
		return nil, fmt.Errorf("routing tables are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackRouter{tables: tables, logger: logger}, nil
}

// Fallback returns the alternate role for a failed one. The FallbackContext
// must carry the prior artifacts and failure reason; the caller hands it to
// the alternate worker unchanged.
func (f *FallbackRouter) Fallback(failed Role, fctx *FallbackContext) (Role, error) {
	if fctx == nil {
		return "", fmt.Errorf("fallback context is required")
	}
	alt, ok := f.tables.Fallbacks[failed]
	if !ok {
		return "", fmt.Errorf("%w: role %s", ErrNoFallback, failed)
	}

	f.logger.Info("routing step to fallback role",
		zap.String("step_id", fctx.StepID),
		zap.String("failed_role", string(failed)),
		zap.String("fallback_role", string(alt)),
		zap.Int("attempts", fctx.Attempts),
		zap.String("reason", fctx.FailureReason),
	)

	return alt, nil
}
