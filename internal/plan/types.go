// Package plan owns the hierarchical execution plan: a master index plus
// per-phase detail records persisted as the single source of truth for
// workflow progress.
//
// The split between master index and phase detail bounds the size of any
// single load regardless of total plan size. Loads always come from disk;
// an orchestrator instance never trusts plan state carried in memory
// across an execution-context boundary.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/router"
)

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepBlocked    StepStatus = "blocked"
	StepFailed     StepStatus = "failed"
)

// legalTransitions lists permitted status moves. Completed is terminal.
// Blocked and failed steps return to pending through explicit operator or
// fallback action, never silently.
var legalTransitions = map[StepStatus][]StepStatus{
	StepPending:    {StepInProgress, StepBlocked, StepFailed},
	StepInProgress: {StepCompleted, StepFailed, StepBlocked},
	StepBlocked:    {StepPending, StepFailed},
	StepFailed:     {StepPending, StepBlocked},
}

// CanTransition reports whether a move from s to next is legal.
func (s StepStatus) CanTransition(next StepStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Step is one unit of work assigned to a worker role.
type Step struct {
	ID                string      `json:"id"`
	Role              router.Role `json:"role"`
	Dependencies      []string    `json:"dependencies,omitempty"`
	Status            StepStatus  `json:"status"`
	ProducedArtifacts []string    `json:"produced_artifacts,omitempty"`

	// FallbackRole is set when the step was rerouted after the original
	// role exhausted its retry budget.
	FallbackRole router.Role `json:"fallback_role,omitempty"`

	// FallbackContext records why the original role failed. It survives
	// with the plan so the alternate role's worker receives it on every
	// dispatch, including after a handoff.
	FallbackContext *router.FallbackContext `json:"fallback_context,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveRole is the role that should receive the next dispatch.
func (s *Step) EffectiveRole() router.Role {
	if s.FallbackRole != "" {
		return s.FallbackRole
	}
	return s.Role
}

// Phase groups an ordered list of steps.
type Phase struct {
	Name  string  `json:"name"`
	Index int     `json:"index"`
	Steps []*Step `json:"steps"`
}

// PhaseRef is the bounded master-index view of a phase.
type PhaseRef struct {
	Name      string `json:"name"`
	Index     int    `json:"index"`
	StepCount int    `json:"step_count"`
	Completed int    `json:"completed"`
	Blocked   int    `json:"blocked"`
	Failed    int    `json:"failed"`
}

// PlanStatus is the lifecycle state of the plan as a whole.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanBlocked   PlanStatus = "blocked"
	PlanArchived  PlanStatus = "archived"
)

// Master is the bounded index document: phase list and status only.
type Master struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	TableVersion int        `json:"table_version"`
	Status       PlanStatus `json:"status"`
	Phases       []PhaseRef `json:"phases"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
}

// Plan is the fully hydrated plan: master plus every phase detail.
type Plan struct {
	Master
	PhaseDetails []*Phase `json:"phase_details"`
}

// Steps returns every step across all phases in phase order.
func (p *Plan) Steps() []*Step {
	var steps []*Step
	for _, ph := range p.PhaseDetails {
		steps = append(steps, ph.Steps...)
	}
	return steps
}

// StepByID finds a step, or nil.
func (p *Plan) StepByID(id string) *Step {
	for _, s := range p.Steps() {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// EligibleSteps returns pending steps whose dependencies are all
// completed. These may be dispatched concurrently: they have no
// unsatisfied dependency on each other by construction.
func (p *Plan) EligibleSteps() []*Step {
	byID := make(map[string]*Step)
	for _, s := range p.Steps() {
		byID[s.ID] = s
	}

	var eligible []*Step
	for _, s := range p.Steps() {
		if s.Status != StepPending {
			continue
		}
		ready := true
		for _, dep := range s.Dependencies {
			d, ok := byID[dep]
			if !ok || d.Status != StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, s)
		}
	}
	return eligible
}

// Done reports whether every step reached completed.
func (p *Plan) Done() bool {
	for _, s := range p.Steps() {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// Stuck reports whether no step is eligible, in progress, or pending with
// satisfiable dependencies - i.e. the plan cannot make further progress
// without intervention.
func (p *Plan) Stuck() bool {
	if p.Done() {
		return false
	}
	if len(p.EligibleSteps()) > 0 {
		return false
	}
	for _, s := range p.Steps() {
		if s.Status == StepInProgress {
			return false
		}
	}
	return true
}

// CyclicDependencyError reports a dependency cycle found at plan-creation
// time. It is fatal: a cyclic chain can never be linearized.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}
