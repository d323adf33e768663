// Package main implements the orchd CLI: run, resume, and inspect
// orchestration workflows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchd/internal/router"
	"github.com/fyrsmithlabs/orchd/internal/worker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "orchd",
	Short: "Workflow orchestration for multi-agent task execution",
	Long: `orchd classifies a task request, routes it to specialized agent roles,
materializes a dependency-ordered plan, and drives it through gated parallel
execution with automatic handoff before the resource budget runs out.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(orchestrator.ExitFatal)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	},
}

// bootstrap loads config and builds the logger shared by all commands.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// buildEngine wires a full engine with the configured worker pool.
func buildEngine(cfg *config.Config, logger *zap.Logger) (*orchestrator.Engine, error) {
	pool := worker.NewPool()
	if len(cfg.Worker.Command) > 0 {
		inv, err := worker.NewExecInvoker(cfg.Worker.Command, logger)
		if err != nil {
			return nil, err
		}
		tables, err := router.LoadTables()
		if err != nil {
			return nil, err
		}
		for _, role := range tables.Roles() {
			pool.Register(role, inv)
		}
	}
	return orchestrator.NewEngine(cfg, pool, logger)
}
