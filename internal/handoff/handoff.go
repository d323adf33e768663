// Package handoff transfers orchestration state from an exhausted
// execution context to a fresh one with zero information loss.
//
// A handoff package references durable state - it never embeds the
// conversation or execution history, because not needing that history is
// exactly what makes continuation possible. Resume reconstructs an
// equivalent orchestration instance purely from the package plus the
// durable stores it points at.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/artifact"
	"github.com/fyrsmithlabs/orchd/internal/plan"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/handoff"

// ErrPackageNotFound indicates no handoff package exists for the ID.
var ErrPackageNotFound = errors.New("handoff package not found")

// Package is the self-contained handoff snapshot. Small regardless of
// workflow size: every heavyweight item is a reference into durable
// storage.
type Package struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	TaskID      string `json:"task_id"`
	PlanID      string `json:"plan_id"`
	CurrentStep string `json:"current_step,omitempty"`

	// RegistrySnapshot is the path of the artifact registry file at
	// prepare time.
	RegistrySnapshot string `json:"registry_snapshot"`

	// ReasoningTrail references the gate-record directory, which is the
	// durable trail of every validation decision made so far.
	ReasoningTrail string `json:"reasoning_trail"`

	// TokensConsumed is the resource usage of the exhausted instance.
	TokensConsumed  int64   `json:"tokens_consumed"`
	BudgetRemaining float64 `json:"budget_remaining"`

	CreatedAt time.Time `json:"created_at"`
}

// StateRefs is what the orchestrator hands to Prepare.
type StateRefs struct {
	WorkflowID      string
	TaskID          string
	PlanID          string
	CurrentStep     string
	ReasoningTrail  string
	TokensConsumed  int64
	BudgetRemaining float64
}

// Restored is the reconstructed orchestration input returned by Resume.
type Restored struct {
	Package       *Package
	Plan          *plan.Plan
	Discrepancies []artifact.Discrepancy
}

// Manager prepares and resumes handoff packages.
type Manager struct {
	mu       sync.Mutex
	dir      string
	plans    *plan.Store
	registry *artifact.Registry
	logger   *zap.Logger

	tracer         trace.Tracer
	prepareCounter metric.Int64Counter
	resumeCounter  metric.Int64Counter
}

// NewManager creates a handoff manager persisting packages under
// baseDir/handoffs.
func NewManager(baseDir string, plans *plan.Store, registry *artifact.Registry, logger *zap.Logger) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if plans == nil {
		return nil, fmt.Errorf("plan store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("artifact registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Join(baseDir, "handoffs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create handoff directory: %w", err)
	}

	m := &Manager{
		dir:      dir,
		plans:    plans,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	m.prepareCounter, err = meter.Int64Counter(
		"orchd.handoff.prepared_total",
		metric.WithDescription("Handoff packages prepared"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		logger.Warn("failed to create prepare counter", zap.Error(err))
	}
	m.resumeCounter, err = meter.Int64Counter(
		"orchd.handoff.resumed_total",
		metric.WithDescription("Handoff packages resumed"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		logger.Warn("failed to create resume counter", zap.Error(err))
	}

	return m, nil
}

// Prepare captures the minimum sufficient state for continuation and
// persists it.
func (m *Manager) Prepare(ctx context.Context, refs StateRefs) (*Package, error) {
	ctx, span := m.tracer.Start(ctx, "handoff.prepare")
	defer span.End()

	if refs.PlanID == "" {
		return nil, fmt.Errorf("plan id is required")
	}

	// The plan must be loadable from durable storage before we promise a
	// fresh instance it can continue from it.
	if _, err := m.plans.Load(ctx, refs.PlanID); err != nil {
		return nil, fmt.Errorf("plan not recoverable from storage: %w", err)
	}

	pkg := &Package{
		ID:               uuid.New().String(),
		WorkflowID:       refs.WorkflowID,
		TaskID:           refs.TaskID,
		PlanID:           refs.PlanID,
		CurrentStep:      refs.CurrentStep,
		RegistrySnapshot: m.registry.Snapshot(),
		ReasoningTrail:   refs.ReasoningTrail,
		TokensConsumed:   refs.TokensConsumed,
		BudgetRemaining:  refs.BudgetRemaining,
		CreatedAt:        time.Now().UTC(),
	}

	m.mu.Lock()
	err := m.persist(pkg)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if m.prepareCounter != nil {
		m.prepareCounter.Add(ctx, 1)
	}
	span.SetAttributes(attribute.String("handoff.id", pkg.ID))

	m.logger.Info("prepared handoff package",
		zap.String("handoff_id", pkg.ID),
		zap.String("workflow_id", pkg.WorkflowID),
		zap.String("plan_id", pkg.PlanID),
		zap.Int64("tokens_consumed", pkg.TokensConsumed),
	)

	return pkg, nil
}

// Resume reconstructs orchestration state from a persisted package.
//
// The plan is re-read from the plan store and the artifact registry is
// integrity-verified against its backing store: the previous instance may
// have died mid-write, and anything it managed to persist must win over
// assumptions.
func (m *Manager) Resume(ctx context.Context, packageID string) (*Restored, error) {
	ctx, span := m.tracer.Start(ctx, "handoff.resume")
	defer span.End()
	span.SetAttributes(attribute.String("handoff.id", packageID))

	m.mu.Lock()
	pkg, err := m.loadPackage(packageID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	discrepancies, err := m.registry.VerifyIntegrity(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry verification failed on resume: %w", err)
	}

	p, err := m.plans.Load(ctx, pkg.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload plan %s: %w", pkg.PlanID, err)
	}

	if m.resumeCounter != nil {
		m.resumeCounter.Add(ctx, 1)
	}

	m.logger.Info("resumed from handoff package",
		zap.String("handoff_id", pkg.ID),
		zap.String("plan_id", pkg.PlanID),
		zap.Int("integrity_discrepancies", len(discrepancies)),
	)

	return &Restored{
		Package:       pkg,
		Plan:          p,
		Discrepancies: discrepancies,
	}, nil
}

// Get returns a persisted package by ID.
func (m *Manager) Get(ctx context.Context, packageID string) (*Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPackage(packageID)
}

func (m *Manager) persist(pkg *Package) error {
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal handoff package: %w", err)
	}
	path := filepath.Join(m.dir, pkg.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write handoff package: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename handoff package: %w", err)
	}
	return nil
}

func (m *Manager) loadPackage(id string) (*Package, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, id+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("handoff package %s: %w", id, ErrPackageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read handoff package %s: %w", id, err)
	}
	var pkg Package
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("handoff package %s corrupted: %w", id, err)
	}
	return &pkg, nil
}
