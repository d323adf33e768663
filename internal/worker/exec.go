package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// ExecInvoker bridges the worker boundary to an external agent process.
// The request is written to the process's stdin as JSON with the role
// appended as the final argument; the process must print an Output JSON
// document on stdout and exit zero.
type ExecInvoker struct {
	command []string
	logger  *zap.Logger
}

// NewExecInvoker creates an invoker for an external agent command.
func NewExecInvoker(command []string, logger *zap.Logger) (*ExecInvoker, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("worker command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecInvoker{command: command, logger: logger}, nil
}

// Invoke runs the agent process for one step.
func (e *ExecInvoker) Invoke(ctx context.Context, req *Request) (*Output, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	args := append(append([]string(nil), e.command[1:]...), string(req.Role))
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		e.logger.Error("agent process failed",
			zap.String("step_id", req.StepID),
			zap.String("role", string(req.Role)),
			zap.String("stderr", stderr.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("agent process for role %s: %w", req.Role, err)
	}

	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode agent output for step %s: %w", req.StepID, err)
	}
	if out.StepID == "" {
		out.StepID = req.StepID
	}
	if out.Role == "" {
		out.Role = req.Role
	}
	return &out, nil
}
