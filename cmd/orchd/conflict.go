package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orchd/internal/conflict"
)

var conflictStatus string

func init() {
	conflictListCmd.Flags().StringVar(&conflictStatus, "status", "", "filter by status (detected, resolved, escalated)")
	conflictCmd.AddCommand(conflictListCmd)
	conflictCmd.AddCommand(conflictResolveCmd)
	rootCmd.AddCommand(conflictCmd)
}

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Inspect and resolve output conflicts",
}

var conflictListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflict records",
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

		records, err := eng.Conflicts().List(context.Background(), conflict.Status(conflictStatus))
		if err != nil {
			return err
		}

		if outputJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSUBJECT\tSEVERITY\tSTATUS\tACCEPTED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Kind, r.Subject, r.Severity, r.Status, r.AcceptedArtifact)
		}
		return w.Flush()
	},
}

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <accepted-artifact>",
	Short: "Record an operator decision on an escalated conflict",
	Long: `Accept one candidate artifact for an escalated conflict. The accepted
artifact is named as step-id/artifact-name; list candidates with
"orchd conflict list --status escalated --json".

After resolving, continue the plan with "orchd gate rerun".`,
	Args: cobra.ExactArgs(2),
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

		rec, err := eng.Conflicts().ResolveManually(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("conflict %s resolved: accepted %s\n", rec.ID, rec.AcceptedArtifact)
		return nil
	},
}
