package gate

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

func testGateConfig() config.GateConfig {
	return config.GateConfig{MaxAttempts: 3, PassThreshold: 7.0, WarnThreshold: 4.0}
}

func summarySchema() *Schema {
	return &Schema{
		Ref:    "test/output/v1",
		Fields: []FieldSpec{{Name: "summary", Kind: KindString, Required: true}},
	}
}

func goodOutput(stepID string) *worker.Output {
	return &worker.Output{
		StepID: stepID,
		Role:   "developer",
		Status: worker.StatusCompleted,
		Artifacts: []worker.Produced{
			{Name: "session.go", Path: "internal/auth/session.go", Content: "package auth"},
		},
		Fields: map[string]any{
			"summary": strings.Repeat("implemented the session refresh flow ", 3),
			"tests":   "added",
			"notes":   "follow-up in review",
		},
	}
}

func failedOutput(stepID string) *worker.Output {
	return &worker.Output{
		StepID:        stepID,
		Role:          "developer",
		Status:        worker.StatusFailed,
		FailureReason: "worker crashed",
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(t.TempDir(), testGateConfig(), nil, nil)
	require.NoError(t, err)
	return v
}

func TestValidate_Pass(t *testing.T) {
	v := newTestValidator(t)

	rec, err := v.Validate(context.Background(), goodOutput("step-1"), summarySchema(), nil)
	require.NoError(t, err)

	assert.Equal(t, CheckPass, rec.SchemaCheck)
	assert.Equal(t, OutcomePass, rec.Outcome)
	assert.True(t, rec.Outcome.Passed())
	assert.GreaterOrEqual(t, rec.QualityScore, 7.0)
	assert.Equal(t, router.RoleDeveloper, rec.Role)
	assert.Equal(t, 1, rec.Attempt)
	assert.Empty(t, rec.PrevAttemptID)
}

func TestValidate_SchemaFailureShortCircuitsScoring(t *testing.T) {
	v := newTestValidator(t)

	out := goodOutput("step-2")
	delete(out.Fields, "summary")

	rec, err := v.Validate(context.Background(), out, summarySchema(), nil)
	require.NoError(t, err)

	assert.Equal(t, CheckFail, rec.SchemaCheck)
	assert.Equal(t, OutcomeFail, rec.Outcome)
	assert.Zero(t, rec.QualityScore)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "missing required field")
}

func TestValidate_WrongFieldType(t *testing.T) {
	v := newTestValidator(t)

	out := goodOutput("step-3")
	out.Fields["summary"] = 42

	rec, err := v.Validate(context.Background(), out, summarySchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, CheckFail, rec.SchemaCheck)
	assert.Contains(t, rec.Errors[0], "wrong type")
}

func TestValidate_PassWithWarnings(t *testing.T) {
	v := newTestValidator(t)

	out := &worker.Output{
		StepID: "step-4",
		Status: worker.StatusCompleted,
		Fields: map[string]any{"summary": "short summary of work"},
	}

	rec, err := v.Validate(context.Background(), out, summarySchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomePassWithWarnings, rec.Outcome)
	assert.True(t, rec.Outcome.Passed())
	assert.NotEmpty(t, rec.Warnings)
}

func TestValidate_QualityFail(t *testing.T) {
	v := newTestValidator(t)

	out := failedOutput("step-5")
	out.Fields = map[string]any{"summary": ""}

	rec, err := v.Validate(context.Background(), out, summarySchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, CheckPass, rec.SchemaCheck)
	assert.Equal(t, OutcomeFail, rec.Outcome)
	assert.NotEmpty(t, rec.Errors)
}

func TestValidate_AppendOnlyHistoryChain(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	first, err := v.Validate(ctx, failedOutput("step-6"), summarySchema(), nil)
	require.NoError(t, err)
	second, err := v.Validate(ctx, failedOutput("step-6"), summarySchema(), nil)
	require.NoError(t, err)
	third, err := v.Validate(ctx, goodOutput("step-6"), summarySchema(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, 3, third.Attempt)
	assert.Equal(t, first.ID, second.PrevAttemptID)
	assert.Equal(t, second.ID, third.PrevAttemptID)

	history, err := v.History("step-6")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, third.ID, history[2].ID)
}

func TestExhausted(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	exhausted, err := v.Exhausted("step-7", "developer")
	require.NoError(t, err)
	assert.False(t, exhausted)

	for i := 0; i < 2; i++ {
		_, err := v.Validate(ctx, failedOutput("step-7"), summarySchema(), nil)
		require.NoError(t, err)
	}
	exhausted, err = v.Exhausted("step-7", "developer")
	require.NoError(t, err)
	assert.False(t, exhausted, "two failures are within the budget")

	_, err = v.Validate(ctx, failedOutput("step-7"), summarySchema(), nil)
	require.NoError(t, err)
	exhausted, err = v.Exhausted("step-7", "developer")
	require.NoError(t, err)
	assert.True(t, exhausted, "third consecutive failure exhausts the budget")
}

func TestExhausted_RerouteStartsFreshWindow(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.Validate(ctx, failedOutput("step-10"), summarySchema(), nil)
		require.NoError(t, err)
	}
	exhausted, err := v.Exhausted("step-10", "developer")
	require.NoError(t, err)
	require.True(t, exhausted)

	// The alternate role inherits the step, not the failure count.
	exhausted, err = v.Exhausted("step-10", "architect")
	require.NoError(t, err)
	assert.False(t, exhausted)

	out := failedOutput("step-10")
	out.Role = "architect"
	for i := 0; i < 2; i++ {
		_, err := v.Validate(ctx, out, summarySchema(), nil)
		require.NoError(t, err)
	}
	exhausted, err = v.Exhausted("step-10", "architect")
	require.NoError(t, err)
	assert.False(t, exhausted, "two failures are within the alternate's budget")

	_, err = v.Validate(ctx, out, summarySchema(), nil)
	require.NoError(t, err)
	exhausted, err = v.Exhausted("step-10", "architect")
	require.NoError(t, err)
	assert.True(t, exhausted)
}

func TestExhausted_PassResetsTheWindow(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.Validate(ctx, failedOutput("step-8"), summarySchema(), nil)
		require.NoError(t, err)
	}
	_, err := v.Validate(ctx, goodOutput("step-8"), summarySchema(), nil)
	require.NoError(t, err)
	_, err = v.Validate(ctx, failedOutput("step-8"), summarySchema(), nil)
	require.NoError(t, err)

	exhausted, err := v.Exhausted("step-8", "developer")
	require.NoError(t, err)
	assert.False(t, exhausted, "only trailing consecutive failures count")
}

func TestHeuristicScorer_Deterministic(t *testing.T) {
	s := HeuristicScorer{}
	out := goodOutput("step-9")

	for _, dim := range []Dimension{DimCompleteness, DimAccuracy, DimClarity, DimConsistency, DimActionability} {
		first := s.Score(out, dim)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, s.Score(out, dim), "dimension %s not deterministic", dim)
		}
		assert.GreaterOrEqual(t, first, 0.0)
		assert.LessOrEqual(t, first, 10.0)
	}
}

func TestRubric_Validate(t *testing.T) {
	require.NoError(t, DefaultRubric().Validate())

	bad := &Rubric{Weights: map[Dimension]float64{DimCompleteness: 0.5}}
	require.Error(t, bad.Validate())
}
