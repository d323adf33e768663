// Package worker defines the invocation boundary between the orchestration
// core and the workers that actually perform steps. Workers are atomic
// black boxes: the core hands them context and required inputs, and they
// hand back produced artifacts and a status. Workers never touch the
// artifact registry or the plan store directly.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/orchd/internal/router"
)

// ErrWorkerUnavailable indicates no worker is registered for a role. The
// orchestrator treats it like an exhausted retry budget and consults the
// fallback router.
var ErrWorkerUnavailable = errors.New("no worker available for role")

// Status is the worker-reported outcome of an invocation.
type Status string

const (
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusNeedsClarification Status = "needs_clarification"
)

// InputArtifact references a validated artifact a step consumes.
type InputArtifact struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Version int    `json:"version"`
}

// Request is what the orchestrator sends across the worker boundary.
type Request struct {
	WorkflowID     string          `json:"workflow_id"`
	StepID         string          `json:"step_id"`
	Role           router.Role     `json:"role"`
	TaskContext    string          `json:"task_context"`
	RequiredInputs []InputArtifact `json:"required_inputs,omitempty"`

	// ContractRef names the output schema the step's gate will enforce.
	ContractRef string `json:"contract_ref"`

	// Fallback carries prior context when this invocation replaces a
	// failed role. Nil on first dispatch.
	Fallback *router.FallbackContext `json:"fallback,omitempty"`
}

// Produced is one raw artifact a worker emitted. It is unvalidated until
// the gate validator has scored the output; only then does the core
// register it.
type Produced struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Content   string   `json:"content,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Output is what a worker returns.
type Output struct {
	StepID    string      `json:"step_id"`
	Role      router.Role `json:"role"`
	Status    Status      `json:"status"`
	Artifacts []Produced  `json:"artifacts,omitempty"`

	// Fields is the structured payload the gate's schema check runs
	// against.
	Fields map[string]any `json:"fields,omitempty"`

	// RequirementClaims are assertions about requirements this output
	// satisfies, keyed by requirement id. Contradictory claims across
	// concurrent outputs trigger conflict detection.
	RequirementClaims map[string]string `json:"requirement_claims,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
}

// Invoker executes one step for one role.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Output, error)
}

// Pool maps roles to invokers.
type Pool struct {
	mu      sync.RWMutex
	workers map[router.Role]Invoker
}

// NewPool creates an empty worker pool.
func NewPool() *Pool {
	return &Pool{workers: make(map[router.Role]Invoker)}
}

// Register binds an invoker to a role, replacing any existing binding.
func (p *Pool) Register(role router.Role, inv Invoker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[role] = inv
}

// Get returns the invoker for a role, or ErrWorkerUnavailable.
func (p *Pool) Get(role router.Role) (Invoker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inv, ok := p.workers[role]
	if !ok {
		return nil, ErrWorkerUnavailable
	}
	return inv, nil
}
