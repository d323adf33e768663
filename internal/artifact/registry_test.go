package artifact

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := NewRegistry(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, dir
}

func passArtifact(name, step, content string) *Artifact {
	return &Artifact{
		Name:             name,
		ProducingStep:    step,
		Content:          content,
		ValidationStatus: ValidationPass,
	}
}

func TestRegister_RefusesPending(t *testing.T) {
	r, _ := newTestRegistry(t)

	a := passArtifact("design-doc", "step-1", "content")
	a.ValidationStatus = ValidationPending
	err := r.Register(context.Background(), a)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnvalidated)

	a.ValidationStatus = ""
	err = r.Register(context.Background(), a)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnvalidated)
}

func TestRegister_RejectsInvalidName(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Register(context.Background(), passArtifact("../escape", "step-1", "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRegister_IdempotentOnIdenticalContent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, passArtifact("design-doc", "step-1", "v1 content")))
	require.NoError(t, r.Register(ctx, passArtifact("design-doc", "step-1", "v1 content")))
	require.NoError(t, r.Register(ctx, passArtifact("design-doc", "step-1", "v1 content")))

	got, err := r.Get(ctx, "design-doc")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, r.History("design-doc"), 1)
}

func TestRegister_VersionBumpOnDifferingContent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, passArtifact("design-doc", "step-1", "v1 content")))
	require.NoError(t, r.Register(ctx, passArtifact("design-doc", "step-2", "v2 content")))

	got, err := r.Get(ctx, "design-doc")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "step-2", got.ProducingStep)
	assert.Equal(t, "v2 content", got.Content)

	history := r.History("design-doc")
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
}

func TestGet_MissingArtifact(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Get(context.Background(), "never-registered")
	require.Error(t, err)
	assert.True(t, IsMissing(err))

	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "never-registered", missing.Name)
}

func TestGet_FailedArtifactIsNotUsable(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a := passArtifact("broken-doc", "step-1", "content")
	a.ValidationStatus = ValidationFail
	require.NoError(t, r.Register(ctx, a))

	_, err := r.Get(ctx, "broken-doc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactInvalid)
	assert.False(t, IsMissing(err))
}

func TestRegistry_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r1, err := NewRegistry(dir, nil)
	require.NoError(t, err)
	require.NoError(t, r1.Register(ctx, passArtifact("design-doc", "step-1", "durable")))
	require.NoError(t, r1.Close())

	r2, err := NewRegistry(dir, nil)
	require.NoError(t, err)
	defer r2.Close()

	got, err := r2.Get(ctx, "design-doc")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Content)
	assert.Equal(t, 1, got.Version)
}

func TestVerifyIntegrity_DetectsMissingContent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a := passArtifact("design-doc", "step-1", "content")
	require.NoError(t, r.Register(ctx, a))
	require.NoError(t, os.Remove(a.Path))

	discrepancies, err := r.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, discrepancies)
	assert.Equal(t, DiscrepancyMissingContent, discrepancies[0].Kind)
	assert.Equal(t, "design-doc", discrepancies[0].Artifact)

	// The record survives; its registry-held content is still served.
	got, err := r.Get(ctx, "design-doc")
	require.NoError(t, err)
	assert.Equal(t, "content", got.Content)
}

func TestVerifyIntegrity_DetectsChecksumDrift(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a := passArtifact("design-doc", "step-1", "original content")
	require.NoError(t, r.Register(ctx, a))
	require.NoError(t, os.WriteFile(a.Path, []byte("tampered"), 0o600))

	discrepancies, err := r.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, discrepancies)
	assert.Equal(t, DiscrepancyChecksumMismatch, discrepancies[0].Kind)

	// The backing store wins: the record refreshes to what is on disk.
	got, err := r.Get(ctx, "design-doc")
	require.NoError(t, err)
	assert.Equal(t, "tampered", got.Content)
}

func TestVerifyIntegrity_CleanStoreReportsNothing(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, passArtifact("a-doc", "step-1", "a")))
	require.NoError(t, r.Register(ctx, passArtifact("b-doc", "step-2", "b")))

	discrepancies, err := r.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("design-doc"))
	assert.NoError(t, ValidateName("api_spec.v2"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("../etc/passwd"))
	assert.Error(t, ValidateName("a/b"))
}
