package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"json", config.LoggingConfig{Level: "info", Format: "json"}, false},
		{"console", config.LoggingConfig{Level: "debug", Format: "console"}, false},
		{"default format", config.LoggingConfig{Level: "warn"}, false},
		{"bad level", config.LoggingConfig{Level: "chatty", Format: "json"}, true},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithWorkflowID(ctx, "wf-1")
	ctx = WithStepID(ctx, "step-1")

	assert.Equal(t, "wf-1", WorkflowIDFromContext(ctx))
	assert.Equal(t, "step-1", StepIDFromContext(ctx))
	assert.ElementsMatch(t, []zap.Field{
		zap.String("workflow.id", "wf-1"),
		zap.String("step.id", "step-1"),
	}, ContextFields(ctx))
}
