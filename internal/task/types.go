// Package task defines the Task model and the deterministic classifier
// that maps a free-form request to a task type and complexity tier.
package task

import (
	"fmt"
	"time"
)

// Type categorizes what kind of work a request asks for.
type Type string

const (
	TypeImplementation Type = "implementation"
	TypeDesign         Type = "design"
	TypeSpecification  Type = "specification"
	TypeRequirements   Type = "requirements"
	TypeAnalysis       Type = "analysis"
	TypeDocumentation  Type = "documentation"
	TypeTesting        Type = "testing"
	TypeDeployment     Type = "deployment"
)

// Complexity is the tier used for gate and routing decisions.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// rank orders complexity tiers for escalation comparisons.
var rank = map[Complexity]int{
	ComplexityTrivial:  0,
	ComplexitySimple:   1,
	ComplexityModerate: 2,
	ComplexityComplex:  3,
	ComplexityCritical: 4,
}

// AtLeast reports whether c is at or above the floor tier.
func (c Complexity) AtLeast(floor Complexity) bool {
	return rank[c] >= rank[floor]
}

// Gates records which quality gates a task requires. Determined entirely
// by complexity so that enforcement stays auditable.
type Gates struct {
	Planning       bool `json:"planning"`
	ImpactAnalysis bool `json:"impact_analysis"`
	Review         bool `json:"review"`
}

// GatesFor returns the gate requirements for a complexity tier.
func GatesFor(c Complexity) Gates {
	switch c {
	case ComplexityTrivial:
		return Gates{}
	case ComplexitySimple:
		return Gates{Review: true}
	case ComplexityModerate:
		return Gates{Planning: true, Review: true}
	default: // complex, critical
		return Gates{Planning: true, ImpactAnalysis: true, Review: true}
	}
}

// Task is an immutable classified request. Complexity only changes through
// Reclassify, never silently.
type Task struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	Type          Type       `json:"type"`
	Complexity    Complexity `json:"complexity"`
	RequiredGates Gates      `json:"required_gates"`

	// Keywords are the normalized trigger words that matched during
	// classification; downstream routing uses them for cross-cutting
	// role injection.
	Keywords []string `json:"keywords,omitempty"`

	// Ambiguous marks tasks that fell through to the safe default
	// (implementation type, complexity raised to at least moderate).
	Ambiguous bool `json:"ambiguous,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Reclassify escalates the task to a higher complexity tier. Downgrades
// are rejected: gate requirements must never loosen after classification.
func (t *Task) Reclassify(to Complexity) error {
	if _, ok := rank[to]; !ok {
		return fmt.Errorf("unknown complexity %q", to)
	}
	if rank[to] <= rank[t.Complexity] {
		return fmt.Errorf("cannot reclassify %s task to %s: only escalation is allowed", t.Complexity, to)
	}
	t.Complexity = to
	t.RequiredGates = GatesFor(to)
	return nil
}
