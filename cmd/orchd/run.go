package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchd/internal/telemetry"
)

var runFiles []string

func init() {
	runCmd.Flags().StringArrayVar(&runFiles, "file", nil, "file the task touches (repeatable); used for complexity scoring")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}

var runCmd = &cobra.Command{
	Use:   "run \"<request>\"",
	Short: "Run a task request to a terminal outcome",
	Long: `Classify the request, route it to agent roles, create an execution plan,
and drive it to completion, handoff, or a blocked state.

Exit codes:
  0  workflow completed
  1  fatal error
  2  one or more steps blocked awaiting operator action
  3  handoff package prepared; continue with "orchd resume"

Examples:
  orchd run "add OAuth login to the session service" --file internal/auth/session.go
  orchd run "fix typo in README"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(func(ctx context.Context, eng *orchestrator.Engine) (*orchestrator.Result, error) {
			return eng.Run(ctx, args[0], runFiles)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <package-id>",
	Short: "Resume a workflow from a handoff package",
	Long: `Reconstruct orchestration state from a handoff package and continue
execution in a fresh instance with a fresh resource budget.

Examples:
  orchd resume 6f1c9a2e-4b3d-4f08-9a51-2f9be61d7c44`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(func(ctx context.Context, eng *orchestrator.Engine) (*orchestrator.Result, error) {
			return eng.ResumeRun(ctx, args[0])
		})
	},
}

// runWorkflow is the shared drive loop for run, resume, and gate rerun:
// build the engine, execute under signal cancellation, report the result,
// and exit with the outcome's code.
func runWorkflow(exec func(context.Context, *orchestrator.Engine) (*orchestrator.Result, error)) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, cfg.Telemetry, version, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	result, err := exec(ctx, eng)
	if err != nil {
		logger.Error("workflow failed", zap.Error(err))
		return err
	}

	if err := printResult(result); err != nil {
		return err
	}
	os.Exit(result.Outcome.ExitCode())
	return nil
}

func printResult(r *orchestrator.Result) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Printf("workflow:  %s\n", r.WorkflowID)
	fmt.Printf("plan:      %s\n", r.PlanID)
	fmt.Printf("outcome:   %s\n", r.Outcome)
	fmt.Printf("tokens:    %d\n", r.TokensConsumed)
	if r.Handoff != nil {
		fmt.Printf("handoff:   %s (resume with: orchd resume %s)\n", r.Handoff.ID, r.Handoff.ID)
	}
	for _, step := range r.BlockedSteps {
		fmt.Printf("blocked:   %s\n", step)
	}
	for _, c := range r.Conflicts {
		fmt.Printf("conflict:  %s [%s] %s\n", c.ID, c.Status, c.Subject)
	}
	return nil
}
