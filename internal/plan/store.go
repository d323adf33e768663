package plan

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
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/task"
)

const instrumentationName = "github.com/fyrsmithlabs/orchd/internal/plan"

// ErrPlanNotFound indicates no plan exists for the requested ID.
var ErrPlanNotFound = errors.New("plan not found")

// Store persists plans as a master index plus one detail file per phase.
// Every read hits disk: plan state may have been modified by a prior,
// now-dead orchestrator instance, so in-memory copies are never reused
// across calls.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
	tracer trace.Tracer
}

// NewStore creates a plan store rooted at baseDir/plans.
func NewStore(baseDir string, logger *zap.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(baseDir, "plans")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create plan directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Create materializes an execution chain into a persisted plan.
//
// Phase layout: the primary step runs alone; supporting and cross-cutting
// steps depend only on the primary and may run in parallel; review steps
// depend on every earlier step; approval steps depend on review.
// The resulting graph is validated by topological sort before anything is
// written - a cyclic chain fails with CyclicDependencyError and no state
// is persisted.
func (s *Store) Create(ctx context.Context, t *task.Task, chain *router.ExecutionChain) (*Plan, error) {
	ctx, span := s.tracer.Start(ctx, "plan.create")
	defer span.End()

	if t == nil || chain == nil {
		return nil, fmt.Errorf("task and chain are required")
	}

	p := materialize(t, chain)
	span.SetAttributes(
		attribute.String("plan.id", p.ID),
		attribute.Int("plan.steps", len(p.Steps())),
	)

	if err := validateDAG(p.Steps()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(p); err != nil {
		return nil, err
	}

	s.logger.Info("created plan",
		zap.String("plan_id", p.ID),
		zap.String("task_id", t.ID),
		zap.Int("phases", len(p.PhaseDetails)),
		zap.Int("steps", len(p.Steps())),
	)

	return p, nil
}

// CreateFromPhases persists an ad-hoc plan. Custom chains are where cycles
// actually show up, so the same DAG validation applies.
func (s *Store) CreateFromPhases(ctx context.Context, taskID string, phases []*Phase) (*Plan, error) {
	ctx, span := s.tracer.Start(ctx, "plan.create_custom")
	defer span.End()

	p := &Plan{
		Master: Master{
			ID:        uuid.New().String(),
			TaskID:    taskID,
			Status:    PlanActive,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
		PhaseDetails: phases,
	}
	for _, ph := range phases {
		for _, st := range ph.Steps {
			if st.Status == "" {
				st.Status = StepPending
			}
		}
	}
	span.SetAttributes(attribute.String("plan.id", p.ID))

	if err := validateDAG(p.Steps()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads the full plan from persisted storage.
func (s *Store) Load(ctx context.Context, planID string) (*Plan, error) {
	_, span := s.tracer.Start(ctx, "plan.load")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", planID))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(planID)
}

// LoadMaster reads only the bounded master index.
func (s *Store) LoadMaster(ctx context.Context, planID string) (*Master, error) {
	_, span := s.tracer.Start(ctx, "plan.load_master")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMaster(planID)
}

// LoadPhase reads a single phase detail document.
func (s *Store) LoadPhase(ctx context.Context, planID, phaseName string) (*Phase, error) {
	_, span := s.tracer.Start(ctx, "plan.load_phase")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var ph Phase
	if err := readJSON(s.phaseFile(planID, phaseName), &ph); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("phase %s of plan %s: %w", phaseName, planID, ErrPlanNotFound)
		}
		return nil, fmt.Errorf("failed to load phase %s of plan %s: %w", phaseName, planID, err)
	}
	return &ph, nil
}

// UpdateStepStatus transitions a step and records produced artifacts.
//
// The plan is re-read from disk immediately before mutation. The
// dependency invariant is enforced here: a step may enter in_progress only
// when every dependency is completed.
func (s *Store) UpdateStepStatus(ctx context.Context, planID, stepID string, status StepStatus, artifacts ...string) error {
	_, span := s.tracer.Start(ctx, "plan.update_step")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.id", planID),
		attribute.String("step.id", stepID),
		attribute.String("step.status", string(status)),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(planID)
	if err != nil {
		return err
	}

	step := p.StepByID(stepID)
	if step == nil {
		return fmt.Errorf("step %s not found in plan %s", stepID, planID)
	}

	if !step.Status.CanTransition(status) {
		return fmt.Errorf("illegal step transition %s -> %s for step %s", step.Status, status, stepID)
	}

	if status == StepInProgress {
		byID := make(map[string]*Step)
		for _, st := range p.Steps() {
			byID[st.ID] = st
		}
		for _, dep := range step.Dependencies {
			d, ok := byID[dep]
			if !ok || d.Status != StepCompleted {
				return fmt.Errorf("step %s cannot start: dependency %s not completed", stepID, dep)
			}
		}
	}

	step.Status = status
	step.UpdatedAt = time.Now().UTC()
	step.ProducedArtifacts = appendUnique(step.ProducedArtifacts, artifacts...)

	return s.persist(p)
}

// SetFallbackRole records that a step was rerouted to an alternate role
// and resets it to pending for redispatch. fctx captures the failure the
// alternate role inherits; it is persisted with the step.
func (s *Store) SetFallbackRole(ctx context.Context, planID, stepID string, alt router.Role, fctx *router.FallbackContext) error {
	_, span := s.tracer.Start(ctx, "plan.set_fallback")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(planID)
	if err != nil {
		return err
	}
	step := p.StepByID(stepID)
	if step == nil {
		return fmt.Errorf("step %s not found in plan %s", stepID, planID)
	}
	if !step.Status.CanTransition(StepPending) {
		return fmt.Errorf("illegal step transition %s -> %s for step %s", step.Status, StepPending, stepID)
	}
	step.FallbackRole = alt
	step.FallbackContext = fctx
	step.Status = StepPending
	step.UpdatedAt = time.Now().UTC()
	return s.persist(p)
}

// Archive marks a plan archived. Plans are never deleted.
func (s *Store) Archive(ctx context.Context, planID string) error {
	_, span := s.tracer.Start(ctx, "plan.archive")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(planID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	p.Status = PlanArchived
	p.ArchivedAt = &now
	return s.persist(p)
}

// List returns the IDs of all persisted plans.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// materialize turns a chain into phases and dependency-wired steps.
func materialize(t *task.Task, chain *router.ExecutionChain) *Plan {
	now := time.Now().UTC()
	p := &Plan{
		Master: Master{
			ID:           uuid.New().String(),
			TaskID:       t.ID,
			TableVersion: chain.TableVersion,
			Status:       PlanActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	newStep := func(role router.Role, deps []string) *Step {
		return &Step{
			ID:           uuid.New().String(),
			Role:         role,
			Dependencies: deps,
			Status:       StepPending,
			UpdatedAt:    now,
		}
	}

	seen := map[router.Role]struct{}{chain.PrimaryRole: {}}

	// Planning and impact-analysis gates materialize as a leading phase;
	// everything else waits on them.
	var planningIDs []string
	if chain.RequiredGates.Planning || chain.RequiredGates.ImpactAnalysis {
		planning := &Phase{Name: "planning", Index: 0}
		if chain.RequiredGates.Planning {
			st := newStep(router.RolePlanner, nil)
			seen[router.RolePlanner] = struct{}{}
			planning.Steps = append(planning.Steps, st)
			planningIDs = append(planningIDs, st.ID)
		}
		if chain.RequiredGates.ImpactAnalysis {
			st := newStep(router.RoleImpactAnalyst, nil)
			seen[router.RoleImpactAnalyst] = struct{}{}
			planning.Steps = append(planning.Steps, st)
			planningIDs = append(planningIDs, st.ID)
		}
		p.PhaseDetails = append(p.PhaseDetails, planning)
	}

	primary := newStep(chain.PrimaryRole, planningIDs)
	execution := &Phase{Name: "execution", Index: len(p.PhaseDetails), Steps: []*Step{primary}}
	var executionIDs = []string{primary.ID}
	for _, role := range append(append([]router.Role(nil), chain.SupportingRoles...), chain.CrossCuttingRoles...) {
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		st := newStep(role, []string{primary.ID})
		execution.Steps = append(execution.Steps, st)
		executionIDs = append(executionIDs, st.ID)
	}
	p.PhaseDetails = append(p.PhaseDetails, execution)

	prevIDs := executionIDs
	if len(chain.ReviewRoles) > 0 {
		review := &Phase{Name: "review", Index: len(p.PhaseDetails)}
		var reviewIDs []string
		for _, role := range chain.ReviewRoles {
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			st := newStep(role, prevIDs)
			review.Steps = append(review.Steps, st)
			reviewIDs = append(reviewIDs, st.ID)
		}
		if len(review.Steps) > 0 {
			p.PhaseDetails = append(p.PhaseDetails, review)
			prevIDs = reviewIDs
		}
	}

	if len(chain.ApprovalRoles) > 0 {
		approval := &Phase{Name: "approval", Index: len(p.PhaseDetails)}
		for _, role := range chain.ApprovalRoles {
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			approval.Steps = append(approval.Steps, newStep(role, prevIDs))
		}
		if len(approval.Steps) > 0 {
			p.PhaseDetails = append(p.PhaseDetails, approval)
		}
	}

	return p
}

// persist writes master index and phase details atomically, master last so
// a torn write never leaves an index pointing at missing detail.
func (s *Store) persist(p *Plan) error {
	planDir := filepath.Join(s.dir, p.ID)
	if err := os.MkdirAll(planDir, 0o700); err != nil {
		return fmt.Errorf("failed to create plan directory: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()
	p.Phases = p.Phases[:0]
	for _, ph := range p.PhaseDetails {
		ref := PhaseRef{Name: ph.Name, Index: ph.Index, StepCount: len(ph.Steps)}
		for _, st := range ph.Steps {
			switch st.Status {
			case StepCompleted:
				ref.Completed++
			case StepBlocked:
				ref.Blocked++
			case StepFailed:
				ref.Failed++
			}
		}
		p.Phases = append(p.Phases, ref)
		if err := writeJSON(s.phaseFile(p.ID, ph.Name), ph); err != nil {
			return err
		}
	}

	if p.Status == PlanActive && p.Done() {
		p.Status = PlanCompleted
	}

	return writeJSON(filepath.Join(planDir, "master.json"), &p.Master)
}

func (s *Store) load(planID string) (*Plan, error) {
	master, err := s.loadMaster(planID)
	if err != nil {
		return nil, err
	}
	p := &Plan{Master: *master}
	for _, ref := range master.Phases {
		var ph Phase
		if err := readJSON(s.phaseFile(planID, ref.Name), &ph); err != nil {
			return nil, fmt.Errorf("failed to load phase %s of plan %s: %w", ref.Name, planID, err)
		}
		p.PhaseDetails = append(p.PhaseDetails, &ph)
	}
	return p, nil
}

func (s *Store) loadMaster(planID string) (*Master, error) {
	var m Master
	if err := readJSON(filepath.Join(s.dir, planID, "master.json"), &m); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan %s: %w", planID, ErrPlanNotFound)
		}
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}
	return &m, nil
}

func (s *Store) phaseFile(planID, phaseName string) string {
	return filepath.Join(s.dir, planID, "phase-"+phaseName+".json")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupted document %s: %w", path, err)
	}
	return nil
}

func appendUnique(existing []string, add ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e] = struct{}{}
	}
	for _, a := range add {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		existing = append(existing, a)
	}
	return existing
}
