// Package budget tracks cumulative resource consumption for one
// orchestrator instance against a fixed ceiling, so the orchestrator
// knows when to warn and when handoff becomes mandatory.
package budget

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/budget"

// Level is the monitor's current pressure state.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Usage is one consumption delta.
type Usage struct {
	Tokens int64
	Source string
}

// Monitor accumulates usage. Safe for concurrent use by parallel step
// dispatches.
type Monitor struct {
	mu       sync.Mutex
	consumed int64
	prior    int64

	ceiling   int64
	warnAt    int64
	handoffAt int64

	warned bool
	logger *zap.Logger

	tokenCounter metric.Int64Counter
}

// NewMonitor creates a monitor from config thresholds.
func NewMonitor(cfg config.BudgetConfig, logger *zap.Logger) (*Monitor, error) {
	if cfg.Ceiling <= 0 {
		return nil, fmt.Errorf("budget ceiling must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		ceiling:   cfg.Ceiling,
		warnAt:    int64(float64(cfg.Ceiling) * cfg.WarnFraction),
		handoffAt: int64(float64(cfg.Ceiling) * cfg.HandoffFraction),
		logger:    logger,
	}

	var err error
	m.tokenCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"orchd.budget.tokens_consumed_total",
		metric.WithDescription("Tokens consumed by the orchestrator instance"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		logger.Warn("failed to create token counter", zap.Error(err))
	}

	return m, nil
}

// Track records a consumption delta.
func (m *Monitor) Track(ctx context.Context, u Usage) {
	m.mu.Lock()
	m.consumed += u.Tokens
	consumed := m.consumed
	crossedWarn := !m.warned && consumed >= m.warnAt
	if crossedWarn {
		m.warned = true
	}
	m.mu.Unlock()

	if m.tokenCounter != nil {
		m.tokenCounter.Add(ctx, u.Tokens)
	}

	if crossedWarn {
		m.logger.Warn("budget warning threshold crossed",
			zap.Int64("consumed", consumed),
			zap.Int64("ceiling", m.ceiling),
			zap.Float64("fraction", float64(consumed)/float64(m.ceiling)),
			zap.String("source", u.Source),
		)
	}
}

// Consumed returns total consumption so far.
func (m *Monitor) Consumed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed
}

// Remaining returns the unconsumed fraction of the budget, in [0, 1].
func (m *Monitor) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem := 1 - float64(m.consumed)/float64(m.ceiling)
	if rem < 0 {
		return 0
	}
	return rem
}

// State returns the current pressure level.
func (m *Monitor) State() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.consumed >= m.handoffAt:
		return LevelCritical
	case m.consumed >= m.warnAt:
		return LevelWarning
	default:
		return LevelOK
	}
}

// ShouldHandoff reports whether handoff is now mandatory.
func (m *Monitor) ShouldHandoff() bool {
	return m.State() == LevelCritical
}

// Restore records usage carried over from a handoff package. Prior usage
// counts toward the lifetime total only, never toward this instance's
// thresholds: a resumed workflow starts with a full budget.
func (m *Monitor) Restore(prior int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prior = prior
}

// Lifetime returns consumption across every instance that has worked the
// workflow, prior handoffs included.
func (m *Monitor) Lifetime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prior + m.consumed
}
