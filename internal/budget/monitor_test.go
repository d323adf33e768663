package budget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchd/internal/config"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := NewMonitor(config.BudgetConfig{
		Ceiling:         1000,
		WarnFraction:    0.75,
		HandoffFraction: 0.90,
	}, nil)
	require.NoError(t, err)
	return m
}

func TestNewMonitor_RequiresPositiveCeiling(t *testing.T) {
	_, err := NewMonitor(config.BudgetConfig{Ceiling: 0}, nil)
	require.Error(t, err)
}

func TestTrack_Thresholds(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	assert.Equal(t, LevelOK, m.State())
	assert.False(t, m.ShouldHandoff())

	m.Track(ctx, Usage{Tokens: 700, Source: "step-1"})
	assert.Equal(t, LevelOK, m.State())

	m.Track(ctx, Usage{Tokens: 50, Source: "step-2"})
	assert.Equal(t, LevelWarning, m.State())
	assert.False(t, m.ShouldHandoff())

	m.Track(ctx, Usage{Tokens: 150, Source: "step-3"})
	assert.Equal(t, LevelCritical, m.State())
	assert.True(t, m.ShouldHandoff())

	assert.Equal(t, int64(900), m.Consumed())
	assert.InDelta(t, 0.10, m.Remaining(), 0.001)
}

func TestRemaining_FloorsAtZero(t *testing.T) {
	m := newTestMonitor(t)
	m.Track(context.Background(), Usage{Tokens: 5000, Source: "runaway"})
	assert.Equal(t, 0.0, m.Remaining())
	assert.True(t, m.ShouldHandoff())
}

func TestRestore_PriorUsageDoesNotPressureFreshBudget(t *testing.T) {
	m := newTestMonitor(t)
	m.Restore(800)

	// Prior instances' consumption never counts against this instance's
	// thresholds.
	assert.Equal(t, int64(0), m.Consumed())
	assert.Equal(t, LevelOK, m.State())
	assert.False(t, m.ShouldHandoff())
	assert.Equal(t, int64(800), m.Lifetime())

	m.Track(context.Background(), Usage{Tokens: 10, Source: "step-1"})
	assert.Equal(t, int64(10), m.Consumed())
	assert.Equal(t, int64(810), m.Lifetime())
}

func TestTrack_Concurrent(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				m.Track(ctx, Usage{Tokens: 1, Source: "worker"})
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, int64(1000), m.Consumed())
}
