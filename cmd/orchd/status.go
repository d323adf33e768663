package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	classifyCmd.Flags().StringArrayVar(&classifyFiles, "file", nil, "file the task touches (repeatable)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(classifyCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <plan-id>",
	Short: "Show plan status and per-step progress",
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

		ctx := context.Background()
		p, err := eng.Plans().Load(ctx, args[0])
		if err != nil {
			return err
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}

		fmt.Printf("plan %s  task %s  status %s\n\n", p.ID, p.TaskID, p.Status)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tSTEP\tROLE\tSTATUS\tARTIFACTS")
		for _, ph := range p.PhaseDetails {
			for _, s := range ph.Steps {
				role := string(s.Role)
				if s.FallbackRole != "" {
					role = fmt.Sprintf("%s (was %s)", s.FallbackRole, s.Role)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					ph.Name, s.ID, role, s.Status, len(s.ProducedArtifacts))
			}
		}
		return w.Flush()
	},
}

var classifyFiles []string

var classifyCmd = &cobra.Command{
	Use:   "classify \"<request>\"",
	Short: "Classify a request without running it",
	Long: `Show how a request would be classified and routed: task type,
complexity tier, required gates, and the execution chain.

Examples:
  orchd classify "refactor the payment module for performance" --file pay.go`,
	Args: cobra.ExactArgs(1),
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

		t, err := eng.Classifier().Classify(args[0], classifyFiles)
		if err != nil {
			return err
		}
		chain, err := eng.Agents().Route(t)
		if err != nil {
			return err
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"task": t, "chain": chain})
		}

		fmt.Printf("type:        %s\n", t.Type)
		fmt.Printf("complexity:  %s\n", t.Complexity)
		if t.Ambiguous {
			fmt.Println("ambiguous:   yes (defaulted)")
		}
		fmt.Printf("gates:       planning=%v impact=%v review=%v\n",
			t.RequiredGates.Planning, t.RequiredGates.ImpactAnalysis, t.RequiredGates.Review)
		fmt.Printf("chain:       %v\n", chain.Ordered())
		return nil
	},
}
