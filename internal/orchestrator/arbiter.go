package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/orchd/internal/conflict"
	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

// conflictContractRef names the output contract for resolution requests.
const conflictContractRef = "orchd/conflict-resolution/v1"

// poolArbiter resolves domain conflicts by invoking the authority role's
// worker and reading its accepted_artifact verdict.
type poolArbiter struct {
	pool    *worker.Pool
	timeout time.Duration
}

func newPoolArbiter(pool *worker.Pool, timeout time.Duration) *poolArbiter {
	return &poolArbiter{pool: pool, timeout: timeout}
}

func (a *poolArbiter) Decide(ctx context.Context, authority router.Role, rec *conflict.Record) (string, error) {
	inv, err := a.pool.Get(authority)
	if err != nil {
		return "", fmt.Errorf("authority role %s: %w", authority, err)
	}

	ictx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := inv.Invoke(ictx, resolutionRequest(authority, rec))
	if err != nil {
		return "", fmt.Errorf("authority %s failed to arbitrate: %w", authority, err)
	}

	accepted, _ := out.Fields["accepted_artifact"].(string)
	if accepted == "" {
		return "", fmt.Errorf("authority %s returned no verdict", authority)
	}
	return accepted, nil
}

// poolConsensus resolves cross-domain conflicts by polling every role on
// the conflict for a vote; a strict majority wins. Ties and unavailable
// voters surface as errors, which the resolver turns into escalation.
type poolConsensus struct {
	pool *worker.Pool
}

func newPoolConsensus(pool *worker.Pool) *poolConsensus {
	return &poolConsensus{pool: pool}
}

func (c *poolConsensus) Agree(ctx context.Context, rec *conflict.Record) (string, error) {
	roles := make(map[router.Role]struct{})
	for _, o := range rec.Outputs {
		roles[o.Role] = struct{}{}
	}

	ordered := make([]router.Role, 0, len(roles))
	for r := range roles {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	votes := make(map[string]int)
	for _, role := range ordered {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		inv, err := c.pool.Get(role)
		if err != nil {
			return "", fmt.Errorf("voter %s: %w", role, err)
		}
		out, err := inv.Invoke(ctx, resolutionRequest(role, rec))
		if err != nil {
			return "", fmt.Errorf("voter %s: %w", role, err)
		}
		if vote, _ := out.Fields["accepted_artifact"].(string); vote != "" {
			votes[vote]++
		}
	}

	var winner string
	var best int
	tied := false
	for id, n := range votes {
		switch {
		case n > best:
			winner, best, tied = id, n, false
		case n == best:
			tied = true
		}
	}
	if winner == "" || tied || best*2 <= len(ordered) {
		return "", fmt.Errorf("no majority among %d voters", len(ordered))
	}
	return winner, nil
}

// resolutionRequest describes the conflict to a resolving worker.
func resolutionRequest(role router.Role, rec *conflict.Record) *worker.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolve %s conflict on %q. Candidates:\n", rec.Kind, rec.Subject)
	for _, id := range rec.CandidateIDs() {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	return &worker.Request{
		StepID:      "conflict-" + rec.ID,
		Role:        role,
		TaskContext: b.String(),
		ContractRef: conflictContractRef,
	}
}
