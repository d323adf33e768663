package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/router"
)

type echoInvoker struct {
	status Status
}

func (e *echoInvoker) Invoke(_ context.Context, req *Request) (*Output, error) {
	return &Output{StepID: req.StepID, Role: req.Role, Status: e.status}, nil
}

func TestPool_RegisterAndGet(t *testing.T) {
	pool := NewPool()
	inv := &echoInvoker{status: StatusCompleted}
	pool.Register(router.Role("developer"), inv)

	got, err := pool.Get(router.Role("developer"))
	require.NoError(t, err)
	assert.Same(t, inv, got)
}

func TestPool_UnregisteredRole(t *testing.T) {
	pool := NewPool()
	_, err := pool.Get(router.Role("architect"))
	assert.ErrorIs(t, err, ErrWorkerUnavailable)
}

func TestPool_RegisterReplaces(t *testing.T) {
	pool := NewPool()
	first := &echoInvoker{status: StatusFailed}
	second := &echoInvoker{status: StatusCompleted}
	pool.Register(router.Role("developer"), first)
	pool.Register(router.Role("developer"), second)

	got, err := pool.Get(router.Role("developer"))
	require.NoError(t, err)

	out, err := got.Invoke(context.Background(), &Request{StepID: "s1", Role: "developer"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
}

func TestExecInvoker_EmptyCommand(t *testing.T) {
	_, err := NewExecInvoker(nil, nil)
	assert.Error(t, err)
}

func TestExecInvoker_RoundTrip(t *testing.T) {
	// The script drains stdin and prints a minimal Output; the invoker
	// backfills step id and role from the request.
	inv, err := NewExecInvoker([]string{"sh", "-c", `cat >/dev/null; printf '{"status":"completed","fields":{"summary":"done"}}'`}, nil)
	require.NoError(t, err)

	out, err := inv.Invoke(context.Background(), &Request{
		WorkflowID: "wf-1",
		StepID:     "exec-step",
		Role:       router.Role("developer"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "exec-step", out.StepID)
	assert.Equal(t, router.Role("developer"), out.Role)
	assert.Equal(t, "done", out.Fields["summary"])
}

func TestExecInvoker_NonZeroExit(t *testing.T) {
	inv, err := NewExecInvoker([]string{"sh", "-c", "echo boom >&2; exit 1"}, nil)
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), &Request{StepID: "s1", Role: "developer"})
	assert.Error(t, err)
}

func TestExecInvoker_GarbageOutput(t *testing.T) {
	inv, err := NewExecInvoker([]string{"sh", "-c", "cat >/dev/null; echo not-json"}, nil)
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), &Request{StepID: "s1", Role: "developer"})
	assert.Error(t, err)
}
