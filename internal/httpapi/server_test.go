package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/artifact"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/conflict"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/handoff"
	"github.com/fyrsmithlabs/orchd/internal/plan"
	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

type fixture struct {
	server    *Server
	plans     *plan.Store
	conflicts *conflict.Resolver
	registry  *artifact.Registry
	gates     *gate.Validator
	handoffs  *handoff.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	plans, err := plan.NewStore(dir, nil)
	require.NoError(t, err)

	tables, err := router.LoadTables()
	require.NoError(t, err)
	conflicts, err := conflict.NewResolver(dir, tables, nil, nil, time.Second, nil)
	require.NoError(t, err)

	registry, err := artifact.NewRegistry(filepath.Join(dir, "artifacts"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	gates, err := gate.NewValidator(dir, config.GateConfig{MaxAttempts: 3, PassThreshold: 7.0, WarnThreshold: 4.0}, nil, nil)
	require.NoError(t, err)

	handoffs, err := handoff.NewManager(dir, plans, registry, nil)
	require.NoError(t, err)

	srv, err := NewServer(plans, conflicts, registry, gates, handoffs, nil, config.ServerConfig{Host: "localhost", Port: 0})
	require.NoError(t, err)

	return &fixture{
		server:    srv,
		plans:     plans,
		conflicts: conflicts,
		registry:  registry,
		gates:     gates,
		handoffs:  handoffs,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p, err := f.plans.CreateFromPhases(context.Background(), "task-1", []*plan.Phase{
		{
			Name:  "execution",
			Index: 0,
			Steps: []*plan.Step{
				{ID: "step-a", Role: "developer"},
				{ID: "step-b", Role: "qa-engineer", Dependencies: []string{"step-a"}},
			},
		},
	})
	require.NoError(t, err)
	return p
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestListPlans(t *testing.T) {
	f := newFixture(t)
	p := f.seedPlan(t)

	rec := f.get(t, "/api/v1/plans")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PlanListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Plans, p.ID)
}

func TestGetPlan(t *testing.T) {
	f := newFixture(t)
	p := f.seedPlan(t)

	rec := f.get(t, "/api/v1/plans/"+p.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var m plan.Master
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, p.ID, m.ID)
	assert.Equal(t, "task-1", m.TaskID)
}

func TestGetPlan_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/v1/plans/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPhase(t *testing.T) {
	f := newFixture(t)
	p := f.seedPlan(t)

	rec := f.get(t, "/api/v1/plans/"+p.ID+"/phases/execution")
	require.Equal(t, http.StatusOK, rec.Code)

	var ph plan.Phase
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ph))
	assert.Equal(t, "execution", ph.Name)
	assert.Len(t, ph.Steps, 2)
}

func TestGetPhase_NotFound(t *testing.T) {
	f := newFixture(t)
	p := f.seedPlan(t)

	rec := f.get(t, "/api/v1/plans/"+p.ID+"/phases/approval")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConflicts_FiltersByStatus(t *testing.T) {
	f := newFixture(t)

	outputs := []*worker.Output{
		{
			StepID:    "step-a",
			Role:      "developer",
			Status:    worker.StatusCompleted,
			Artifacts: []worker.Produced{{Name: "design-doc", Content: "version a"}},
		},
		{
			StepID:    "step-b",
			Role:      "architect",
			Status:    worker.StatusCompleted,
			Artifacts: []worker.Produced{{Name: "design-doc", Content: "version b"}},
		},
	}
	records, err := f.conflicts.Detect(context.Background(), outputs)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := f.get(t, "/api/v1/conflicts?status=detected")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConflictListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, records[0].ID, resp.Conflicts[0].ID)

	rec = f.get(t, "/api/v1/conflicts?status=resolved")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Conflicts)
}

func TestArtifactHistory(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.registry.Register(context.Background(), &artifact.Artifact{
		Name:             "design-doc",
		ProducingStep:    "step-a",
		Content:          "v1",
		ValidationStatus: artifact.ValidationPass,
	}))

	rec := f.get(t, "/api/v1/artifacts/design-doc/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ArtifactHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "design-doc", resp.Name)
	require.Len(t, resp.Versions, 1)
	assert.Equal(t, 1, resp.Versions[0].Version)

	rec = f.get(t, "/api/v1/artifacts/unknown/history")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGateHistory(t *testing.T) {
	f := newFixture(t)

	out := &worker.Output{
		StepID: "step-a",
		Role:   "developer",
		Status: worker.StatusCompleted,
		Artifacts: []worker.Produced{
			{Name: "report", Path: "report.md", Content: "done"},
		},
		Fields: map[string]any{"summary": strings.Repeat("implemented the change ", 4)},
	}
	schema := &gate.Schema{
		Ref:    "test/output/v1",
		Fields: []gate.FieldSpec{{Name: "summary", Kind: gate.KindString, Required: true}},
	}
	_, err := f.gates.Validate(context.Background(), out, schema, nil)
	require.NoError(t, err)

	rec := f.get(t, "/api/v1/steps/step-a/gates")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GateHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "step-a", resp.StepID)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, 1, resp.Records[0].Attempt)

	rec = f.get(t, "/api/v1/steps/unknown/gates")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHandoff_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/v1/handoffs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
