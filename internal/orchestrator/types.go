// Package orchestrator drives a workflow from request to completion:
// classify, route, plan, then repeatedly dispatch every eligible step in
// parallel, gate each output, register artifacts, resolve conflicts, and
// hand off to a fresh instance before the resource budget runs out.
package orchestrator

import (
	"github.com/fyrsmithlabs/orchd/internal/conflict"
	"github.com/fyrsmithlabs/orchd/internal/handoff"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeCompleted: every step completed and the plan was archived.
	OutcomeCompleted Outcome = "completed"

	// OutcomeHandoff: the budget crossed the mandatory threshold; a
	// handoff package was prepared and the run stopped cleanly.
	OutcomeHandoff Outcome = "handoff"

	// OutcomeBlocked: one or more steps are blocked pending operator
	// action (escalated conflict or permanent failure with no fallback).
	OutcomeBlocked Outcome = "blocked"

	// OutcomeFailed: the run cannot make progress and nothing is
	// awaiting an operator.
	OutcomeFailed Outcome = "failed"
)

// Exit codes for the operator surface.
const (
	ExitSuccess           = 0
	ExitFatal             = 1
	ExitValidationFailure = 2
	ExitHandoffTriggered  = 3
)

// ExitCode maps an outcome to the CLI exit code contract.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeCompleted:
		return ExitSuccess
	case OutcomeHandoff:
		return ExitHandoffTriggered
	case OutcomeBlocked:
		return ExitValidationFailure
	default:
		return ExitFatal
	}
}

// Result is the terminal state of one orchestration run.
type Result struct {
	WorkflowID string  `json:"workflow_id"`
	TaskID     string  `json:"task_id"`
	PlanID     string  `json:"plan_id"`
	Outcome    Outcome `json:"outcome"`

	// Handoff is set when Outcome is OutcomeHandoff.
	Handoff *handoff.Package `json:"handoff,omitempty"`

	// BlockedSteps lists steps awaiting operator action.
	BlockedSteps []string `json:"blocked_steps,omitempty"`

	// Conflicts lists conflict records touched during the run.
	Conflicts []*conflict.Record `json:"conflicts,omitempty"`

	TokensConsumed int64 `json:"tokens_consumed"`
}
