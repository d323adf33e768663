// Package router maps classified tasks to ordered execution chains of
// worker roles, and provides fallback routing when a role's output
// repeatedly fails validation.
//
// All routing decisions come from a static, versioned table (tables.yaml,
// embedded at build time) so that chains are auditable and reproducible.
package router

import (
	"github.com/fyrsmithlabs/orchd/internal/task"
)

// Role identifies a worker role by capability, not by agent name.
type Role string

const (
	RoleDeveloper               Role = "developer"
	RoleArchitect               Role = "architect"
	RoleSpecWriter              Role = "spec-writer"
	RoleRequirementsAnalyst     Role = "requirements-analyst"
	RoleAnalyst                 Role = "analyst"
	RoleTechnicalWriter         Role = "technical-writer"
	RoleQAEngineer              Role = "qa-engineer"
	RoleDevOpsEngineer          Role = "devops-engineer"
	RoleCodeReviewer            Role = "code-reviewer"
	RoleSecurityArchitect       Role = "security-architect"
	RoleAccessibilitySpecialist Role = "accessibility-specialist"
	RoleComplianceAuditor       Role = "compliance-auditor"
	RolePerformanceEngineer     Role = "performance-engineer"
	RoleDatabaseArchitect       Role = "database-architect"

	// Gate-derived roles: materialized into plans when the task's
	// complexity requires planning or impact-analysis gates.
	RolePlanner       Role = "planner"
	RoleImpactAnalyst Role = "impact-analyst"
)

// ExecutionChain is the total-ordered set of roles a task flows through,
// plus the gates the orchestrator must enforce between them.
type ExecutionChain struct {
	TaskID            string     `json:"task_id"`
	TableVersion      int        `json:"table_version"`
	PrimaryRole       Role       `json:"primary_role"`
	SupportingRoles   []Role     `json:"supporting_roles,omitempty"`
	CrossCuttingRoles []Role     `json:"cross_cutting_roles,omitempty"`
	ReviewRoles       []Role     `json:"review_roles,omitempty"`
	ApprovalRoles     []Role     `json:"approval_roles,omitempty"`
	RequiredGates     task.Gates `json:"required_gates"`
}

// Ordered returns the chain as a duplicate-free role sequence. Cross-cutting
// roles sit after supporting roles and before review roles: cross-cutting
// concerns must be addressed before correctness review.
func (c *ExecutionChain) Ordered() []Role {
	seen := make(map[Role]struct{})
	ordered := make([]Role, 0, 1+len(c.SupportingRoles)+len(c.CrossCuttingRoles)+len(c.ReviewRoles)+len(c.ApprovalRoles))

	appendOnce := func(roles ...Role) {
		for _, r := range roles {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			ordered = append(ordered, r)
		}
	}

	appendOnce(c.PrimaryRole)
	appendOnce(c.SupportingRoles...)
	appendOnce(c.CrossCuttingRoles...)
	appendOnce(c.ReviewRoles...)
	appendOnce(c.ApprovalRoles...)

	return ordered
}

// Contains reports whether the chain includes the role in any position.
func (c *ExecutionChain) Contains(role Role) bool {
	for _, r := range c.Ordered() {
		if r == role {
			return true
		}
	}
	return false
}

// FallbackContext carries everything the alternate role needs to take over
// a failed step. Losing context on fallback is a defect, so the struct is
// explicit about what must travel.
type FallbackContext struct {
	StepID         string   `json:"step_id"`
	FailedRole     Role     `json:"failed_role"`
	FailureReason  string   `json:"failure_reason"`
	Attempts       int      `json:"attempts"`
	PriorArtifacts []string `json:"prior_artifacts,omitempty"`
}
