package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

type stubArbiter struct {
	accepted string
	err      error
	calls    int
}

func (s *stubArbiter) Decide(ctx context.Context, authority router.Role, rec *Record) (string, error) {
	s.calls++
	return s.accepted, s.err
}

type stubConsensus struct {
	accepted string
	err      error
	delay    time.Duration
	calls    int
}

func (s *stubConsensus) Agree(ctx context.Context, rec *Record) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.accepted, s.err
}

func newTestResolver(t *testing.T, arbiter Arbiter, consensus Consensus) *Resolver {
	t.Helper()
	tables, err := router.LoadTables()
	require.NoError(t, err)
	r, err := NewResolver(t.TempDir(), tables, arbiter, consensus, 100*time.Millisecond, nil)
	require.NoError(t, err)
	return r
}

func overlappingOutputs(subject string) []*worker.Output {
	return []*worker.Output{
		{
			StepID:    "step-a",
			Role:      router.RoleDeveloper,
			Status:    worker.StatusCompleted,
			Artifacts: []worker.Produced{{Name: subject, Content: "version a"}},
		},
		{
			StepID:    "step-b",
			Role:      router.RoleArchitect,
			Status:    worker.StatusCompleted,
			Artifacts: []worker.Produced{{Name: subject, Content: "version b"}},
		},
	}
}

func TestDetect_NoConflictBelowTwoOutputs(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	records, err := r.Detect(context.Background(), overlappingOutputs("design-doc")[:1])
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestDetect_ArtifactOverlap(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	records, err := r.Detect(context.Background(), overlappingOutputs("design-doc"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, KindArtifactOverlap, rec.Kind)
	assert.Equal(t, "design-doc", rec.Subject)
	assert.Equal(t, SeverityMedium, rec.Severity)
	assert.Equal(t, StatusDetected, rec.Status)
	assert.Len(t, rec.Outputs, 2)
	assert.Equal(t, []string{"step-a/design-doc", "step-b/design-doc"}, rec.CandidateIDs())

	// Detected conflicts are persisted immediately, not only on resolve.
	listed, err := r.List(context.Background(), StatusDetected)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, rec.ID, listed[0].ID)
}

func TestDetect_RequirementContradiction(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	outputs := []*worker.Output{
		{
			StepID:            "step-a",
			Role:              router.RoleDeveloper,
			RequirementClaims: map[string]string{"REQ-7": "satisfied"},
		},
		{
			StepID:            "step-b",
			Role:              router.RoleQAEngineer,
			RequirementClaims: map[string]string{"REQ-7": "violated"},
		},
	}

	records, err := r.Detect(context.Background(), outputs)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, KindRequirementContradiction, records[0].Kind)
	assert.Equal(t, "REQ-7", records[0].Subject)
	assert.Equal(t, SeverityHigh, records[0].Severity)
}

func TestDetect_AgreeingClaimsAreNotConflicts(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	outputs := []*worker.Output{
		{StepID: "step-a", RequirementClaims: map[string]string{"REQ-7": "satisfied"}},
		{StepID: "step-b", RequirementClaims: map[string]string{"REQ-7": "Satisfied"}},
	}

	records, err := r.Detect(context.Background(), outputs)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDetect_Deterministic(t *testing.T) {
	r := newTestResolver(t, nil, nil)
	outputs := append(overlappingOutputs("b-doc"), overlappingOutputs("a-doc")...)

	records, err := r.Detect(context.Background(), outputs)
	require.NoError(t, err)
	require.Len(t, records, 2)
	subjects := []string{records[0].Subject, records[1].Subject}
	assert.ElementsMatch(t, []string{"a-doc", "b-doc"}, subjects)
}

func TestResolve_DomainAuthority(t *testing.T) {
	arb := &stubArbiter{accepted: "step-a/auth-token-doc"}
	cons := &stubConsensus{}
	r := newTestResolver(t, arb, cons)

	// Subject containing "auth" maps to the security domain, which has
	// a registered authority.
	records, err := r.Detect(context.Background(), overlappingOutputs("auth-token-doc"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "security", records[0].Domain)

	res, err := r.Resolve(context.Background(), records[0])
	require.NoError(t, err)
	assert.False(t, res.Escalated)
	assert.Equal(t, "step-a/auth-token-doc", res.AcceptedArtifact)
	assert.Equal(t, StatusResolved, res.Record.Status)
	assert.Equal(t, router.RoleSecurityArchitect, res.Record.ResolutionAgent)
	assert.Equal(t, 1, arb.calls)
	assert.Zero(t, cons.calls, "authority path must not fall through to consensus")
}

func TestResolve_RejectsNonCandidateVerdict(t *testing.T) {
	arb := &stubArbiter{accepted: "step-z/auth-token-doc"}
	r := newTestResolver(t, arb, nil)

	records, err := r.Detect(context.Background(), overlappingOutputs("auth-token-doc"))
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), records[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
	assert.True(t, res.Escalated)
	assert.Equal(t, StatusEscalated, res.Record.Status)
}

func TestResolve_ConsensusTimeoutEscalates(t *testing.T) {
	cons := &stubConsensus{accepted: "step-a/design-doc", delay: time.Second}
	r := newTestResolver(t, nil, cons)

	// "design-doc" maps to the technical domain; without an arbiter the
	// resolver falls through to consensus, which here outlives the
	// 100ms timeout.
	records, err := r.Detect(context.Background(), overlappingOutputs("design-doc"))
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), records[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
	assert.True(t, res.Escalated)
	assert.Equal(t, StatusEscalated, res.Record.Status)
	assert.NotEmpty(t, res.Record.EscalationReason)

	// The escalated record lands in the operator queue.
	escalated, err := r.List(context.Background(), StatusEscalated)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
}

func TestResolve_NoResolutionPathEscalates(t *testing.T) {
	r := newTestResolver(t, nil, nil)

	records, err := r.Detect(context.Background(), overlappingOutputs("design-doc"))
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), records[0])
	require.Error(t, err)
	assert.True(t, res.Escalated)
}

func TestResolveManually(t *testing.T) {
	r := newTestResolver(t, nil, nil)
	ctx := context.Background()

	records, err := r.Detect(ctx, overlappingOutputs("design-doc"))
	require.NoError(t, err)
	rec := records[0]

	_, err = r.Resolve(ctx, rec)
	require.Error(t, err)

	resolved, err := r.ResolveManually(ctx, rec.ID, "step-b/design-doc")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "step-b/design-doc", resolved.AcceptedArtifact)

	_, err = r.ResolveManually(ctx, rec.ID, "step-a/design-doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")

	_, err = r.ResolveManually(ctx, "nope", "step-a/design-doc")
	require.Error(t, err)
}

func TestClassifyDomain(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"auth-token-doc", "security"},
		{"query-plan", "data"},
		{"cache-layout", "performance"},
		{"release-checklist", "process"},
		{"design-doc", "technical"},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDomain(tt.subject))
		})
	}
}
