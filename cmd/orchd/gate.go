package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchd/internal/plan"
)

func init() {
	gateCmd.AddCommand(gateHistoryCmd)
	gateCmd.AddCommand(gateRerunCmd)
	rootCmd.AddCommand(gateCmd)
}

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect and rerun quality gates",
}

var gateHistoryCmd = &cobra.Command{
	Use:   "history <step-id>",
	Short: "Show the append-only gate record trail for a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		records, err := eng.Gates().History(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no gate records for step %s", args[0])
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ATTEMPT\tOUTCOME\tSCHEMA\tSCORE\tERRORS")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\t%d\n",
				r.Attempt, r.Outcome, r.SchemaCheck, r.QualityScore, len(r.Errors))
		}
		return w.Flush()
	},
}

var gateRerunCmd = &cobra.Command{
	Use:   "rerun <plan-id> <step-id>",
	Short: "Unblock a step and continue the plan",
	Long: `Move a blocked step back to pending and continue executing the plan.
Use after fixing whatever blocked the step: an escalated conflict resolved
with "orchd conflict resolve", a worker made available, or an input
artifact repaired.

Exit codes match "orchd run".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		planID, stepID := args[0], args[1]
		return runWorkflow(func(ctx context.Context, eng *orchestrator.Engine) (*orchestrator.Result, error) {
			if err := eng.Plans().UpdateStepStatus(ctx, planID, stepID, plan.StepPending); err != nil {
				return nil, fmt.Errorf("unblock step %s: %w", stepID, err)
			}
			return eng.ContinueRun(ctx, planID)
		})
	},
}
