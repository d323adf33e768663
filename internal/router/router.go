package router

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/task"
)

// AgentRouter maps a classified task to a deterministic execution chain.
type AgentRouter struct {
	tables *Tables
	logger *zap.Logger
}

// NewAgentRouter creates a router over the given tables. Pass the result
// of LoadTables for the built-in table set.
func NewAgentRouter(tables *Tables, logger *zap.Logger) (*AgentRouter, error) {
	if tables == nil {
		return nil, fmt.Errorf("routing tables are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentRouter{tables: tables, logger: logger}, nil
}

// Tables exposes the routing table document, primarily for the conflict
// resolver's domain-authority lookups.
func (r *AgentRouter) Tables() *Tables {
	return r.tables
}

// Route produces the execution chain for a task.
//
// The chain is total-ordered: primary, supporting, cross-cutting, review,
// approval. Cross-cutting roles are injected once per matched trigger
// (set union), after supporting roles and before review roles. Complex
// and critical tasks additionally carry mandatory approval roles, while
// trivial tasks collapse to the primary role alone.
func (r *AgentRouter) Route(t *task.Task) (*ExecutionChain, error) {
	if t == nil {
		return nil, fmt.Errorf("task is required")
	}

	row, ok := r.tables.Capabilities[string(t.Type)]
	if !ok {
		return nil, fmt.Errorf("no capability entry for task type %q (table version %d)", t.Type, r.tables.Version)
	}

	chain := &ExecutionChain{
		TaskID:        t.ID,
		TableVersion:  r.tables.Version,
		PrimaryRole:   row.Primary,
		RequiredGates: t.RequiredGates,
	}

	// Trivial work runs the primary role alone; a supporting chain would
	// outweigh the task itself.
	if t.Complexity != task.ComplexityTrivial {
		chain.SupportingRoles = append([]Role(nil), row.Supporting...)
		chain.CrossCuttingRoles = r.matchTriggers(t)
	}

	if t.RequiredGates.Review {
		chain.ReviewRoles = append([]Role(nil), r.tables.ReviewRoles...)
	}
	if t.Complexity.AtLeast(task.ComplexityComplex) {
		chain.ApprovalRoles = append([]Role(nil), r.tables.ApprovalRoles...)
	}

	r.logger.Debug("routed task",
		zap.String("task_id", t.ID),
		zap.String("primary", string(chain.PrimaryRole)),
		zap.Int("chain_len", len(chain.Ordered())),
		zap.Int("table_version", r.tables.Version),
	)

	return chain, nil
}

// matchTriggers scans the task description and classifier keywords against
// the trigger table. Each trigger injects its role at most once, in table
// order, so the result is deterministic.
func (r *AgentRouter) matchTriggers(t *task.Task) []Role {
	haystack := strings.ToLower(t.Description)
	for _, kw := range t.Keywords {
		haystack += " " + kw
	}

	var injected []Role
	seen := make(map[Role]struct{})
	for _, trig := range r.tables.Triggers {
		if _, ok := seen[trig.Role]; ok {
			continue
		}
		for _, kw := range trig.Keywords {
			if strings.Contains(haystack, kw) {
				seen[trig.Role] = struct{}{}
				injected = append(injected, trig.Role)
				break
			}
		}
	}
	return injected
}
