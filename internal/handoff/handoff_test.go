package handoff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/artifact"
	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/router"
)

type fixture struct {
	manager  *Manager
	plans    *plan.Store
	registry *artifact.Registry
	planID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	plans, err := plan.NewStore(dir, nil)
	require.NoError(t, err)
	registry, err := artifact.NewRegistry(dir+"/artifacts", nil)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	m, err := NewManager(dir, plans, registry, nil)
	require.NoError(t, err)

	p, err := plans.CreateFromPhases(context.Background(), "task-1", []*plan.Phase{{
		Name: "execution",
		Steps: []*plan.Step{
			{ID: "a", Role: router.RoleDeveloper},
			{ID: "b", Role: router.RoleQAEngineer, Dependencies: []string{"a"}},
		},
	}})
	require.NoError(t, err)

	return &fixture{manager: m, plans: plans, registry: registry, planID: p.ID}
}

func TestPrepare_ReferencesDurableState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pkg, err := f.manager.Prepare(ctx, StateRefs{
		WorkflowID:      "wf-1",
		TaskID:          "task-1",
		PlanID:          f.planID,
		CurrentStep:     "a",
		ReasoningTrail:  "/tmp/gates",
		TokensConsumed:  180_000,
		BudgetRemaining: 0.1,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, pkg.ID)
	assert.Equal(t, "wf-1", pkg.WorkflowID)
	assert.Equal(t, f.planID, pkg.PlanID)
	assert.Equal(t, f.registry.Snapshot(), pkg.RegistrySnapshot)
	assert.Equal(t, int64(180_000), pkg.TokensConsumed)
}

func TestPrepare_RejectsUnrecoverablePlan(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Prepare(context.Background(), StateRefs{PlanID: "ghost-plan"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not recoverable")

	_, err = f.manager.Prepare(context.Background(), StateRefs{})
	require.Error(t, err)
}

func TestResume_ReconstructsEquivalentState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Advance the plan and register an artifact before handing off.
	require.NoError(t, f.plans.UpdateStepStatus(ctx, f.planID, "a", plan.StepInProgress))
	require.NoError(t, f.plans.UpdateStepStatus(ctx, f.planID, "a", plan.StepCompleted, "design-doc"))
	require.NoError(t, f.registry.Register(ctx, &artifact.Artifact{
		Name:             "design-doc",
		ProducingStep:    "a",
		Content:          "the design",
		ValidationStatus: artifact.ValidationPass,
	}))

	pkg, err := f.manager.Prepare(ctx, StateRefs{
		WorkflowID:     "wf-1",
		TaskID:         "task-1",
		PlanID:         f.planID,
		CurrentStep:    "b",
		TokensConsumed: 90,
	})
	require.NoError(t, err)

	restored, err := f.manager.Resume(ctx, pkg.ID)
	require.NoError(t, err)

	assert.Equal(t, pkg.ID, restored.Package.ID)
	assert.Empty(t, restored.Discrepancies)

	// The restored plan carries the pre-handoff progress: step a is
	// completed with its artifact, step b is now eligible.
	stepA := restored.Plan.StepByID("a")
	require.NotNil(t, stepA)
	assert.Equal(t, plan.StepCompleted, stepA.Status)
	assert.Equal(t, []string{"design-doc"}, stepA.ProducedArtifacts)

	eligible := restored.Plan.EligibleSteps()
	require.Len(t, eligible, 1)
	assert.Equal(t, "b", eligible[0].ID)

	// The registered artifact is readable by the fresh instance.
	got, err := f.registry.Get(ctx, "design-doc")
	require.NoError(t, err)
	assert.Equal(t, "the design", got.Content)
}

func TestResume_UnknownPackage(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Resume(context.Background(), "no-such-package")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pkg, err := f.manager.Prepare(ctx, StateRefs{WorkflowID: "wf-1", PlanID: f.planID})
	require.NoError(t, err)

	got, err := f.manager.Get(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, got.ID)
	assert.Equal(t, pkg.PlanID, got.PlanID)
}
