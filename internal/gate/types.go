// Package gate validates step outputs before the rest of the system is
// allowed to trust them. Validation is two-tier: a structural schema check
// that fails fast, then a weighted quality rubric producing a 0-10 score.
//
// Every validation attempt writes a Record, pass or fail. Records are
// append-only history keyed by (step, attempt); re-validation produces a
// new record referencing the previous one, never a mutation.
package gate

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/router"
)

// CheckResult is the structural tier outcome.
type CheckResult string

const (
	CheckPass CheckResult = "pass"
	CheckFail CheckResult = "fail"
)

// Outcome is the overall gate verdict.
type Outcome string

const (
	OutcomePass             Outcome = "pass"
	OutcomePassWithWarnings Outcome = "pass_with_warnings"
	OutcomeFail             Outcome = "fail"
)

// Passed reports whether downstream steps may consume the artifacts behind
// this outcome. Pass-with-warnings is consumable; the warnings are logged,
// not blocking.
func (o Outcome) Passed() bool {
	return o == OutcomePass || o == OutcomePassWithWarnings
}

// FieldKind is the expected type of a schema field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindList   FieldKind = "list"
	KindObject FieldKind = "object"
)

// FieldSpec declares one field of an output contract.
type FieldSpec struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
}

// Schema is the declared output contract a step's worker must meet.
type Schema struct {
	Ref    string      `json:"ref"`
	Fields []FieldSpec `json:"fields"`
}

// Dimension is one axis of the quality rubric.
type Dimension string

const (
	DimCompleteness  Dimension = "completeness"
	DimAccuracy      Dimension = "accuracy"
	DimClarity       Dimension = "clarity"
	DimConsistency   Dimension = "consistency"
	DimActionability Dimension = "actionability"
)

// Rubric weights quality dimensions. Weights must sum to 1.
type Rubric struct {
	Weights map[Dimension]float64 `json:"weights"`
}

// DefaultRubric returns the standard weighting.
func DefaultRubric() *Rubric {
	return &Rubric{Weights: map[Dimension]float64{
		DimCompleteness:  0.25,
		DimAccuracy:      0.25,
		DimClarity:       0.15,
		DimConsistency:   0.15,
		DimActionability: 0.20,
	}}
}

// Validate checks the rubric weights.
func (r *Rubric) Validate() error {
	var sum float64
	for dim, w := range r.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("rubric weight for %s out of range: %v", dim, w)
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("rubric weights must sum to 1, got %v", sum)
	}
	return nil
}

// Record is the recorded outcome of validating one step output attempt.
// Role is the role that served the attempt; a rerouted step accumulates
// records under both its original and fallback roles.
type Record struct {
	ID            string      `json:"id"`
	StepID        string      `json:"step_id"`
	Role          router.Role `json:"role,omitempty"`
	Attempt       int         `json:"attempt"`
	SchemaCheck   CheckResult `json:"schema_check"`
	QualityScore  float64     `json:"quality_score"`
	Outcome       Outcome     `json:"outcome"`
	Errors        []string    `json:"errors,omitempty"`
	Warnings      []string    `json:"warnings,omitempty"`
	PrevAttemptID string      `json:"prev_attempt_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
