// Package conflict detects and resolves contradictory outputs from
// concurrently executed workers. A conflict is never discarded: every
// record is persisted, and resolution that cannot complete in bounded
// time escalates to the operator queue instead of picking a side.
package conflict

import (
	"time"

	"github.com/fyrsmithlabs/orchd/internal/router"
)

// Severity classifies how dangerous an unresolved conflict is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is the lifecycle state of a conflict record.
type Status string

const (
	StatusDetected  Status = "detected"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
)

// Kind distinguishes what the workers disagreed about.
type Kind string

const (
	// KindArtifactOverlap: two or more workers produced the same artifact.
	KindArtifactOverlap Kind = "artifact_overlap"
	// KindRequirementContradiction: workers made opposing claims about
	// the same requirement.
	KindRequirementContradiction Kind = "requirement_contradiction"
)

// Output identifies one side of a conflict.
type Output struct {
	StepID   string      `json:"step_id"`
	Role     router.Role `json:"role"`
	Artifact string      `json:"artifact,omitempty"`
	Claim    string      `json:"claim,omitempty"`
}

// Record is one detected conflict.
type Record struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Subject  string   `json:"subject"` // artifact name or requirement key
	Domain   string   `json:"domain,omitempty"`
	Severity Severity `json:"severity"`
	Outputs  []Output `json:"conflicting_outputs"`
	Status   Status   `json:"status"`

	// ResolutionAgent is the role that arbitrated, when resolution
	// succeeded through domain authority.
	ResolutionAgent  router.Role `json:"resolution_agent,omitempty"`
	AcceptedArtifact string      `json:"accepted_artifact,omitempty"`
	EscalationReason string      `json:"escalation_reason,omitempty"`

	DetectedAt time.Time  `json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// CandidateIDs returns the artifact IDs a resolution may accept, one per
// conflicting output, in the form producing-step/subject.
func (r *Record) CandidateIDs() []string {
	ids := make([]string, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		ids = append(ids, o.StepID+"/"+r.Subject)
	}
	return ids
}

// Resolution is the outcome handed back to the orchestrator. An accepted
// artifact ID has the form producing-step/subject.
type Resolution struct {
	Record           *Record
	Escalated        bool
	AcceptedArtifact string
}
